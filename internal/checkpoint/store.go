package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// Store persists per-phase conversation checkpoints. One record exists per
// (project, phase); iteration saves overwrite it asynchronously, phase
// transitions save synchronously and then clear the outgoing phase's record.
// Every overwrite keeps the previous version as .backup.
type Store struct {
	ws     *workspace.Workspace
	logger *slog.Logger

	writeChan  chan *models.CheckpointRecord
	writeWg    sync.WaitGroup
	stopWriter chan struct{}

	writerError error
	errorMu     sync.Mutex
	writeMu     sync.Mutex
}

// NewStore creates a checkpoint store and starts its background writer
func NewStore(ws *workspace.Workspace, logger *slog.Logger) *Store {
	s := &Store{
		ws:         ws,
		logger:     logger,
		writeChan:  make(chan *models.CheckpointRecord, 10),
		stopWriter: make(chan struct{}),
	}
	s.startAsyncWriter()
	return s
}

func (s *Store) startAsyncWriter() {
	s.writeWg.Add(1)
	go func() {
		defer s.writeWg.Done()
		for {
			select {
			case rec := <-s.writeChan:
				if err := s.writeToDisk(rec); err != nil {
					s.errorMu.Lock()
					s.writerError = err
					s.errorMu.Unlock()
					s.logger.Error("Failed to write checkpoint", "error", err)
				}
			case <-s.stopWriter:
				// Drain remaining writes before stopping
				for len(s.writeChan) > 0 {
					rec := <-s.writeChan
					if err := s.writeToDisk(rec); err != nil {
						s.logger.Error("Failed to write checkpoint during shutdown", "error", err)
					}
				}
				return
			}
		}
	}()
}

func (s *Store) writeToDisk(rec *models.CheckpointRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := s.ws.CheckpointPath(rec.Phase)

	if current, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".backup", current, 0644); err != nil {
			return fmt.Errorf("failed to write checkpoint backup: %w", err)
		}
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}

	s.logger.Debug("Checkpoint saved",
		"phase", rec.Phase,
		"iteration", rec.Iteration,
		"messages", len(rec.Messages))
	return nil
}

// Save queues a checkpoint for async write. Falls back to a synchronous
// write when the buffer is full so no record is ever dropped.
func (s *Store) Save(rec *models.CheckpointRecord) error {
	rec.Timestamp = time.Now()
	recCopy := copyRecord(rec)

	select {
	case s.writeChan <- recCopy:
		return nil
	default:
		s.logger.Warn("Checkpoint write buffer full, writing synchronously")
		return s.writeToDisk(recCopy)
	}
}

// SaveSync performs a synchronous checkpoint write. Used at phase
// transitions and before propagating fatal errors.
func (s *Store) SaveSync(rec *models.CheckpointRecord) error {
	rec.Timestamp = time.Now()
	return s.writeToDisk(copyRecord(rec))
}

// Load reads the checkpoint for a phase; ok is false when none exists
func (s *Store) Load(phase models.Phase) (*models.CheckpointRecord, bool, error) {
	data, err := os.ReadFile(s.ws.CheckpointPath(phase))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var rec models.CheckpointRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	s.logger.Info("Checkpoint loaded",
		"phase", rec.Phase,
		"iteration", rec.Iteration,
		"messages", len(rec.Messages))
	return &rec, true, nil
}

// Clear removes the checkpoint for a phase. Called after a transition so a
// resume lands at the start of the new phase with a fresh conversation.
func (s *Store) Clear(phase models.Phase) error {
	path := s.ws.CheckpointPath(phase)
	for _, p := range []string{path, path + ".backup"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear checkpoint: %w", err)
		}
	}
	s.logger.Debug("Checkpoint cleared", "phase", phase)
	return nil
}

// Close stops the async writer and waits for pending writes
func (s *Store) Close() error {
	close(s.stopWriter)
	s.writeWg.Wait()

	s.errorMu.Lock()
	defer s.errorMu.Unlock()
	return s.writerError
}

func copyRecord(rec *models.CheckpointRecord) *models.CheckpointRecord {
	cp := *rec
	cp.Messages = make([]models.Message, len(rec.Messages))
	copy(cp.Messages, rec.Messages)
	return &cp
}
