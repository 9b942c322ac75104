package models

import "fmt"

// Phase represents the current stage of the writing workflow
type Phase string

const (
	PhasePlanning      Phase = "PLANNING"
	PhasePlanCritique  Phase = "PLAN_CRITIQUE"
	PhaseWriting       Phase = "WRITING"
	PhaseWriteCritique Phase = "WRITE_CRITIQUE"
	PhaseComplete      Phase = "COMPLETE"
)

// AllPhases lists every phase in workflow order
var AllPhases = []Phase{
	PhasePlanning,
	PhasePlanCritique,
	PhaseWriting,
	PhaseWriteCritique,
	PhaseComplete,
}

// allowedTransitions maps each phase to the phases it may transition into.
// WRITE_CRITIQUE branches: back to WRITING for the next chunk (or a revision),
// or to COMPLETE once every chunk is approved.
var allowedTransitions = map[Phase][]Phase{
	PhasePlanning:      {PhasePlanCritique},
	PhasePlanCritique:  {PhaseWriting},
	PhaseWriting:       {PhaseWriteCritique},
	PhaseWriteCritique: {PhaseWriting, PhaseComplete},
}

// IsValid reports whether p is a known phase
func (p Phase) IsValid() bool {
	for _, phase := range AllPhases {
		if p == phase {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the workflow is finished
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete
}

// CanTransitionTo reports whether a transition from p to target is allowed
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, t := range allowedTransitions[p] {
		if t == target {
			return true
		}
	}
	return false
}

// ParsePhase converts a string to a Phase, rejecting unknown values
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.IsValid() {
		return "", fmt.Errorf("unknown phase: %q", s)
	}
	return p, nil
}
