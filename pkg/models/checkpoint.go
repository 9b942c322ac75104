package models

import "time"

// CheckpointRecord is the durable snapshot of one phase's conversation.
// Exactly one record exists per (project, phase); saves overwrite it and a
// phase transition clears it, so a resume always lands at the start of the
// newest incomplete phase.
type CheckpointRecord struct {
	ProjectID string    `json:"project_id"`
	SessionID string    `json:"session_id"`
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
}
