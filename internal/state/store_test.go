package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/storyloom/storyloom/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewState(t *testing.T) {
	st := NewState("proj-1", "sess-1", "Test Novel")

	if st.Phase != models.PhasePlanning {
		t.Errorf("Expected initial phase %s, got %s", models.PhasePlanning, st.Phase)
	}
	if st.CurrentChunk != 1 {
		t.Errorf("Expected current chunk 1, got %d", st.CurrentChunk)
	}
	if st.RevisionCounts == nil {
		t.Error("Expected RevisionCounts map to be initialized")
	}
	if st.Title != "Test Novel" {
		t.Errorf("Expected title 'Test Novel', got '%s'", st.Title)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".workflow_state.json")
	store := NewStore(path, testLogger())

	st := NewState("proj-1", "sess-1", "Test Novel")
	st.Phase = models.PhaseWriting
	st.TotalChunks = 12
	st.ApprovedChunks = 3
	st.CurrentChunk = 4
	st.RevisionCounts[2] = 1

	if err := store.Save(st); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Phase != models.PhaseWriting {
		t.Errorf("Expected phase %s, got %s", models.PhaseWriting, loaded.Phase)
	}
	if loaded.TotalChunks != 12 || loaded.ApprovedChunks != 3 || loaded.CurrentChunk != 4 {
		t.Errorf("Chunk counters not preserved: total=%d approved=%d current=%d",
			loaded.TotalChunks, loaded.ApprovedChunks, loaded.CurrentChunk)
	}
	if loaded.RevisionCounts[2] != 1 {
		t.Errorf("Expected revision count 1 for chunk 2, got %d", loaded.RevisionCounts[2])
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set by Save")
	}
}

func TestSave_WritesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".workflow_state.json")
	store := NewStore(path, testLogger())

	st := NewState("proj-1", "sess-1", "Test Novel")
	if err := store.Save(st); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	st.Iteration = 5
	if err := store.Save(st); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	if _, err := os.Stat(path + ".backup"); err != nil {
		t.Errorf("Expected backup file after second save: %v", err)
	}
}

func TestLoad_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".workflow_state.json")
	store := NewStore(path, testLogger())

	st := NewState("proj-1", "sess-1", "Test Novel")
	st.Iteration = 7
	if err := store.Save(st); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	st.Iteration = 8
	if err := store.Save(st); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	// Corrupt the primary file; Load must recover from the backup
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to corrupt state file: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Expected recovery from backup, got: %v", err)
	}
	if loaded.Iteration != 7 {
		t.Errorf("Expected backup iteration 7, got %d", loaded.Iteration)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.json"), testLogger())
	if _, err := store.Load(); err == nil {
		t.Error("Expected an error when neither state nor backup exists")
	}
}

func TestExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".workflow_state.json")
	store := NewStore(path, testLogger())

	if store.Exists() {
		t.Error("Expected Exists to be false before save")
	}
	if err := store.Save(NewState("p", "s", "T")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.Exists() {
		t.Error("Expected Exists to be true after save")
	}
}
