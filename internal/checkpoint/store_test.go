package checkpoint

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

func testStore(t *testing.T) (*Store, *workspace.Workspace) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ws, err := workspace.New(t.TempDir(), "proj-1", logger)
	if err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	return NewStore(ws, logger), ws
}

func testRecord(phase models.Phase, iteration int) *models.CheckpointRecord {
	return &models.CheckpointRecord{
		ProjectID: "proj-1",
		SessionID: "sess-1",
		Phase:     phase,
		Iteration: iteration,
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "You are the Story Architect."},
			{Role: models.RoleUser, Content: "Plan the novel."},
		},
	}
}

func TestSaveSyncAndLoad(t *testing.T) {
	store, _ := testStore(t)
	defer func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close() failed: %v", err)
		}
	}()

	rec := testRecord(models.PhasePlanning, 3)
	if err := store.SaveSync(rec); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}

	loaded, ok, err := store.Load(models.PhasePlanning)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected checkpoint to exist")
	}
	if loaded.Iteration != 3 {
		t.Errorf("Expected iteration 3, got %d", loaded.Iteration)
	}
	if len(loaded.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set on save")
	}
}

func TestAsyncSave(t *testing.T) {
	store, _ := testStore(t)

	if err := store.Save(testRecord(models.PhaseWriting, 10)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Close drains the async writer, so the record must be on disk after
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	loaded, ok, err := store.Load(models.PhaseWriting)
	if err != nil || !ok {
		t.Fatalf("Expected checkpoint after Close, ok=%v err=%v", ok, err)
	}
	if loaded.Iteration != 10 {
		t.Errorf("Expected iteration 10, got %d", loaded.Iteration)
	}
}

func TestPerPhaseRecords(t *testing.T) {
	store, _ := testStore(t)
	defer func() { _ = store.Close() }()

	if err := store.SaveSync(testRecord(models.PhasePlanning, 1)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}
	if err := store.SaveSync(testRecord(models.PhaseWriting, 2)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}

	planning, ok, _ := store.Load(models.PhasePlanning)
	if !ok || planning.Iteration != 1 {
		t.Error("Expected planning checkpoint to survive the writing save")
	}
	writing, ok, _ := store.Load(models.PhaseWriting)
	if !ok || writing.Iteration != 2 {
		t.Error("Expected separate writing checkpoint")
	}
}

func TestOverwriteKeepsBackup(t *testing.T) {
	store, ws := testStore(t)
	defer func() { _ = store.Close() }()

	if err := store.SaveSync(testRecord(models.PhasePlanning, 1)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}
	if err := store.SaveSync(testRecord(models.PhasePlanning, 2)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}

	if _, err := os.Stat(ws.CheckpointPath(models.PhasePlanning) + ".backup"); err != nil {
		t.Errorf("Expected backup after overwrite: %v", err)
	}
}

func TestClear(t *testing.T) {
	store, ws := testStore(t)
	defer func() { _ = store.Close() }()

	if err := store.SaveSync(testRecord(models.PhasePlanning, 1)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}
	if err := store.SaveSync(testRecord(models.PhasePlanning, 2)); err != nil {
		t.Fatalf("SaveSync failed: %v", err)
	}

	if err := store.Clear(models.PhasePlanning); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if _, ok, err := store.Load(models.PhasePlanning); err != nil || ok {
		t.Errorf("Expected no checkpoint after Clear, ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(ws.CheckpointPath(models.PhasePlanning) + ".backup"); !os.IsNotExist(err) {
		t.Error("Expected backup removed by Clear")
	}

	// Clearing a phase with no checkpoint is not an error
	if err := store.Clear(models.PhaseWriting); err != nil {
		t.Errorf("Clear of missing checkpoint failed: %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	store, _ := testStore(t)
	defer func() { _ = store.Close() }()

	_, ok, err := store.Load(models.PhaseWriteCritique)
	if err != nil {
		t.Fatalf("Load of missing checkpoint errored: %v", err)
	}
	if ok {
		t.Error("Expected ok=false for missing checkpoint")
	}
}

func TestWriteTranscript(t *testing.T) {
	store, ws := testStore(t)
	defer func() { _ = store.Close() }()

	messages := []models.Message{
		{Role: models.RoleSystem, Content: "You are the Creative Writer."},
		{Role: models.RoleAssistant, ReasoningContent: "I should open with the storm.", ToolCalls: []models.ToolCall{
			{ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "write_chunk", Arguments: `{"content":"..."}`}},
		}},
		{Role: models.RoleTool, Name: "write_chunk", ToolCallID: "call_1", Content: `{"success":true}`},
	}

	if err := store.WriteTranscript(models.PhaseWriting, messages); err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}

	data, err := os.ReadFile(ws.TranscriptPath(models.PhaseWriting))
	if err != nil {
		t.Fatalf("Failed to read transcript: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "write_chunk") {
		t.Error("Expected tool call name in transcript")
	}
	if !strings.Contains(text, "Creative Writer") {
		t.Error("Expected system prompt in transcript")
	}
}

func TestSaveCopiesMessages(t *testing.T) {
	store, _ := testStore(t)

	rec := testRecord(models.PhasePlanning, 1)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Mutating the caller's slice after Save must not affect the write
	rec.Messages[0].Content = "mutated"
	time.Sleep(50 * time.Millisecond)
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	loaded, ok, err := store.Load(models.PhasePlanning)
	if err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	if loaded.Messages[0].Content != "You are the Story Architect." {
		t.Errorf("Expected deep-copied messages, got '%s'", loaded.Messages[0].Content)
	}
}
