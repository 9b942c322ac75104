package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

// Planning document filenames
const (
	PlanningSummaryFile    = "summary.md"
	PlanningCharactersFile = "characters.md"
	PlanningStructureFile  = "structure.md"
	PlanningOutlineFile    = "outline.md"
)

// PlanningFiles lists every document a complete plan must contain
var PlanningFiles = []string{
	PlanningSummaryFile,
	PlanningCharactersFile,
	PlanningStructureFile,
	PlanningOutlineFile,
}

// Workspace is the handle to one project's directory tree. It is created
// once and threaded explicitly through the orchestrator, agents, and tools;
// nothing in the engine touches project files except through it.
type Workspace struct {
	root      string
	projectID string
	logger    *slog.Logger
}

// New creates the directory tree for a new project
func New(outputDir, projectID string, logger *slog.Logger) (*Workspace, error) {
	root := filepath.Join(outputDir, projectID)
	for _, dir := range []string{root, filepath.Join(root, "planning"), filepath.Join(root, "manuscript"), filepath.Join(root, "critiques")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create workspace directory: %w", err)
		}
	}

	logger.Info("Created project workspace", "path", root)
	return &Workspace{root: root, projectID: projectID, logger: logger}, nil
}

// Open attaches to an existing project directory
func Open(outputDir, projectID string, logger *slog.Logger) (*Workspace, error) {
	root := filepath.Join(outputDir, projectID)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, fmt.Errorf("project workspace not found: %s", root)
	}
	return &Workspace{root: root, projectID: projectID, logger: logger}, nil
}

// Root returns the workspace root directory
func (ws *Workspace) Root() string {
	return ws.root
}

// ProjectID returns the project identifier
func (ws *Workspace) ProjectID() string {
	return ws.projectID
}

// WritePlanningFile writes one of the planning documents
func (ws *Workspace) WritePlanningFile(name, content string) error {
	path := filepath.Join(ws.root, "planning", name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write planning file: %w", err)
	}
	ws.logger.Debug("Wrote planning file", "file", name, "bytes", len(content))
	return nil
}

// ReadPlanningFile reads one of the planning documents
func (ws *Workspace) ReadPlanningFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(ws.root, "planning", name))
	if err != nil {
		return "", fmt.Errorf("failed to read planning file %s: %w", name, err)
	}
	return string(data), nil
}

// MissingPlanningFiles returns the planning documents not yet written
func (ws *Workspace) MissingPlanningFiles() []string {
	var missing []string
	for _, name := range PlanningFiles {
		if _, err := os.Stat(filepath.Join(ws.root, "planning", name)); os.IsNotExist(err) {
			missing = append(missing, name)
		}
	}
	return missing
}

// ChunkPath returns the manuscript path for chunk n (1-based)
func (ws *Workspace) ChunkPath(n int) string {
	return filepath.Join(ws.root, "manuscript", fmt.Sprintf("chunk_%02d.md", n))
}

// WriteChunk writes a manuscript chunk
func (ws *Workspace) WriteChunk(n int, content string) error {
	if err := os.WriteFile(ws.ChunkPath(n), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", n, err)
	}
	ws.logger.Debug("Wrote manuscript chunk", "chunk", n, "bytes", len(content))
	return nil
}

// ReadChunk reads a manuscript chunk
func (ws *Workspace) ReadChunk(n int) (string, error) {
	data, err := os.ReadFile(ws.ChunkPath(n))
	if err != nil {
		return "", fmt.Errorf("failed to read chunk %d: %w", n, err)
	}
	return string(data), nil
}

// ChunkExists reports whether chunk n has been written
func (ws *Workspace) ChunkExists(n int) bool {
	_, err := os.Stat(ws.ChunkPath(n))
	return err == nil
}

// WritePlanCritique writes a versioned plan critique
func (ws *Workspace) WritePlanCritique(version int, content string) error {
	name := fmt.Sprintf("plan_critique_v%d.md", version)
	return ws.writeCritique(name, content)
}

// WriteChunkCritique writes a versioned critique of a chunk
func (ws *Workspace) WriteChunkCritique(chunk, version int, content string) error {
	name := fmt.Sprintf("chunk_%02d_critique_v%d.md", chunk, version)
	return ws.writeCritique(name, content)
}

// WriteRevisionRequest writes a versioned revision request for a chunk
func (ws *Workspace) WriteRevisionRequest(chunk, version int, content string) error {
	name := fmt.Sprintf("chunk_%02d_revision_v%d.md", chunk, version)
	return ws.writeCritique(name, content)
}

// ReadRevisionRequest reads a specific revision request
func (ws *Workspace) ReadRevisionRequest(chunk, version int) (string, error) {
	name := fmt.Sprintf("chunk_%02d_revision_v%d.md", chunk, version)
	data, err := os.ReadFile(filepath.Join(ws.root, "critiques", name))
	if err != nil {
		return "", fmt.Errorf("failed to read revision request: %w", err)
	}
	return string(data), nil
}

// WriteApprovalNote records an approval artifact (plan or chunk)
func (ws *Workspace) WriteApprovalNote(name, content string) error {
	return ws.writeCritique(name, content)
}

func (ws *Workspace) writeCritique(name, content string) error {
	path := filepath.Join(ws.root, "critiques", name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write critique file %s: %w", name, err)
	}
	ws.logger.Debug("Wrote critique file", "file", name)
	return nil
}

// StatePath returns the workflow state file path
func (ws *Workspace) StatePath() string {
	return filepath.Join(ws.root, ".workflow_state.json")
}

// CheckpointPath returns the conversation checkpoint path for a phase
func (ws *Workspace) CheckpointPath(phase models.Phase) string {
	return filepath.Join(ws.root, fmt.Sprintf(".conversation_history_%s.json", phase))
}

// TranscriptPath returns the readable conversation log path for a phase
func (ws *Workspace) TranscriptPath(phase models.Phase) string {
	return filepath.Join(ws.root, fmt.Sprintf(".conversation_log_%s.md", phase))
}

// LogPath returns the session log file path
func (ws *Workspace) LogPath() string {
	return filepath.Join(ws.root, "session.log")
}

// ExportPath returns the stitched manuscript path
func (ws *Workspace) ExportPath() string {
	return filepath.Join(ws.root, "manuscript", "full_manuscript.md")
}

// WriteContextSummary persists a compression summary for inspection
func (ws *Workspace) WriteContextSummary(content string) (string, error) {
	name := fmt.Sprintf(".context_summary_%s.md", time.Now().Format("2006-01-02T15-04-05"))
	path := filepath.Join(ws.root, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write context summary: %w", err)
	}
	return path, nil
}

// BackupConfig copies the config file into the workspace
func (ws *Workspace) BackupConfig(configPath string) error {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := filepath.Join(ws.root, "config.toml.bak")
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return fmt.Errorf("failed to write config backup: %w", err)
	}

	ws.logger.Info("Backed up config file", "path", backupPath)
	return nil
}
