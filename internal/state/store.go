package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

// Store persists the workflow state with atomic-with-backup semantics:
// the previous version is copied to .backup before every overwrite, the new
// version lands via temp-file rename, and a failed write restores the
// backup. Control commands and the orchestrator share the file; each side
// re-reads before acting.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore creates a store for the given state file path
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// NewState initializes a fresh workflow state for a project
func NewState(projectID, sessionID, title string) *models.WorkflowState {
	now := time.Now()
	return &models.WorkflowState{
		ProjectID:      projectID,
		SessionID:      sessionID,
		Title:          title,
		Phase:          models.PhasePlanning,
		CurrentChunk:   1,
		RevisionCounts: make(map[int]int),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Save writes the state to disk
func (s *Store) Save(st *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	backupPath := s.path + ".backup"
	hasBackup := false
	if current, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(backupPath, current, 0644); err != nil {
			return fmt.Errorf("failed to write state backup: %w", err)
		}
		hasBackup = true
	}

	if err := s.writeAtomic(data); err != nil {
		if hasBackup {
			if restoreErr := s.restoreBackup(backupPath); restoreErr != nil {
				s.logger.Error("Failed to restore state backup", "error", restoreErr)
			}
		}
		return fmt.Errorf("failed to write state: %w", err)
	}

	s.logger.Debug("Workflow state saved",
		"phase", st.Phase,
		"iteration", st.Iteration,
		"approved_chunks", st.ApprovedChunks)
	return nil
}

func (s *Store) writeAtomic(data []byte) error {
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.path)
}

func (s *Store) restoreBackup(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Load reads the state from disk. If the primary file is unreadable or
// corrupt, the backup is tried before giving up.
func (s *Store) Load() (*models.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := readState(s.path)
	if err == nil {
		return st, nil
	}

	backup, backupErr := readState(s.path + ".backup")
	if backupErr != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	s.logger.Warn("Primary state file unreadable, recovered from backup", "error", err)
	return backup, nil
}

// Exists reports whether a state file has been written
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func readState(path string) (*models.WorkflowState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st models.WorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if st.RevisionCounts == nil {
		st.RevisionCounts = make(map[int]int)
	}
	return &st, nil
}
