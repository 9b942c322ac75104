package workspace

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/storyloom/storyloom/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNew_CreatesDirectoryTree(t *testing.T) {
	root := t.TempDir()
	ws, err := New(root, "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for _, dir := range []string{"", "planning", "manuscript", "critiques"} {
		path := filepath.Join(root, "proj-1", dir)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s: %v", path, err)
		}
	}
	if ws.ProjectID() != "proj-1" {
		t.Errorf("Expected project id 'proj-1', got '%s'", ws.ProjectID())
	}
}

func TestOpen_MissingProject(t *testing.T) {
	if _, err := Open(t.TempDir(), "nope", testLogger()); err == nil {
		t.Error("Expected an error for a missing project directory")
	}
}

func TestPlanningFiles(t *testing.T) {
	ws, err := New(t.TempDir(), "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	missing := ws.MissingPlanningFiles()
	if len(missing) != len(PlanningFiles) {
		t.Errorf("Expected all %d files missing, got %d", len(PlanningFiles), len(missing))
	}

	if err := ws.WritePlanningFile(PlanningSummaryFile, "A heist story."); err != nil {
		t.Fatalf("WritePlanningFile failed: %v", err)
	}

	missing = ws.MissingPlanningFiles()
	for _, name := range missing {
		if name == PlanningSummaryFile {
			t.Error("Expected summary no longer missing")
		}
	}

	content, err := ws.ReadPlanningFile(PlanningSummaryFile)
	if err != nil || content != "A heist story." {
		t.Errorf("ReadPlanningFile = %q, %v", content, err)
	}
}

func TestChunkRoundtrip(t *testing.T) {
	ws, err := New(t.TempDir(), "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if ws.ChunkExists(1) {
		t.Error("Expected chunk 1 to not exist yet")
	}
	if err := ws.WriteChunk(1, "Prose."); err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if !ws.ChunkExists(1) {
		t.Error("Expected chunk 1 to exist")
	}

	content, err := ws.ReadChunk(1)
	if err != nil || content != "Prose." {
		t.Errorf("ReadChunk = %q, %v", content, err)
	}

	// Chunk files are zero-padded for stable ordering
	if !strings.HasSuffix(ws.ChunkPath(7), "chunk_07.md") {
		t.Errorf("Unexpected chunk path %s", ws.ChunkPath(7))
	}
}

func TestRevisionRequestRoundtrip(t *testing.T) {
	ws, err := New(t.TempDir(), "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := ws.WriteRevisionRequest(2, 1, "Slow down the pacing."); err != nil {
		t.Fatalf("WriteRevisionRequest failed: %v", err)
	}
	feedback, err := ws.ReadRevisionRequest(2, 1)
	if err != nil || feedback != "Slow down the pacing." {
		t.Errorf("ReadRevisionRequest = %q, %v", feedback, err)
	}
}

func TestPhaseScopedPaths(t *testing.T) {
	ws, err := New(t.TempDir(), "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cp := ws.CheckpointPath(models.PhaseWriting)
	if !strings.HasSuffix(cp, ".conversation_history_WRITING.json") {
		t.Errorf("Unexpected checkpoint path %s", cp)
	}
	tp := ws.TranscriptPath(models.PhasePlanning)
	if !strings.HasSuffix(tp, ".conversation_log_PLANNING.md") {
		t.Errorf("Unexpected transcript path %s", tp)
	}
}

func TestBackupConfig(t *testing.T) {
	ws, err := New(t.TempDir(), "proj-1", testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte("[workflow]\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if err := ws.BackupConfig(cfgPath); err != nil {
		t.Fatalf("BackupConfig failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws.Root(), "config.toml.bak")); err != nil {
		t.Errorf("Expected config backup in workspace: %v", err)
	}
}
