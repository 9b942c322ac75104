package models

import "time"

// WorkflowState is the durable per-project workflow record. It is owned by
// the single running orchestrator; control commands (pause, approve, reject)
// only touch the control fields and the orchestrator picks them up by
// polling-reload.
type WorkflowState struct {
	ProjectID string `json:"project_id"`
	SessionID string `json:"session_id"`
	Title     string `json:"title"`

	Phase Phase `json:"phase"`

	// Iteration counts every iteration of the run and drives the safety
	// cap; CurrentPhaseIterations counts since the last phase transition
	// and resets to 0 when one is applied.
	Iteration              int `json:"iteration"`
	CurrentPhaseIterations int `json:"current_phase_iterations"`

	TotalChunks    int         `json:"total_chunks"`
	ApprovedChunks int         `json:"approved_chunks"`
	CurrentChunk   int         `json:"current_chunk"`
	RevisionCounts map[int]int `json:"revision_counts"`

	PlanCritiqueCount int `json:"plan_critique_count"`

	// Control fields, written by CLI commands
	Paused          bool               `json:"paused"`
	PendingApproval *ApprovalRequest   `json:"pending_approval,omitempty"`
	ApprovalHistory []ApprovalDecision `json:"approval_history,omitempty"`

	TransitionLog []Transition `json:"transition_log,omitempty"`
	Stats         SessionStats `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovalRequest records a phase transition deferred until a human decides
type ApprovalRequest struct {
	ID          string    `json:"id"`
	FromPhase   Phase     `json:"from_phase"`
	ToPhase     Phase     `json:"to_phase"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ApprovalDecision records the resolution of an approval request
type ApprovalDecision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	Feedback  string    `json:"feedback,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Transition is one entry in the workflow audit log
type Transition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// SessionStats tracks cumulative workflow activity
type SessionStats struct {
	ModelCalls     int           `json:"model_calls"`
	Retries        int           `json:"retries"`
	ToolExecutions int           `json:"tool_executions"`
	Compressions   int           `json:"compressions"`
	TotalDuration  time.Duration `json:"total_duration"`
}

// Phase weights for overall progress: planning and critique phases are
// cheap relative to writing, which dominates the run.
const (
	planningWeight      = 10.0
	planCritiqueWeight  = 10.0
	writingWeight       = 70.0
	writeCritiqueWeight = 10.0
)

// Progress returns overall completion as a percentage (0-100)
func (s *WorkflowState) Progress() float64 {
	switch s.Phase {
	case PhasePlanning:
		return 0
	case PhasePlanCritique:
		return planningWeight
	case PhaseWriting, PhaseWriteCritique:
		base := planningWeight + planCritiqueWeight
		if s.TotalChunks == 0 {
			return base
		}
		chunkShare := (writingWeight + writeCritiqueWeight) * float64(s.ApprovedChunks) / float64(s.TotalChunks)
		return base + chunkShare
	case PhaseComplete:
		return 100
	}
	return 0
}

// IsComplete reports whether every chunk has been approved. The Complete
// phase is entered exactly when this holds.
func (s *WorkflowState) IsComplete() bool {
	return s.TotalChunks > 0 && s.ApprovedChunks >= s.TotalChunks
}
