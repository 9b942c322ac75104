package agent

import (
	"fmt"

	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// Agent is one of the four fixed workflow personas. Each phase binds to
// exactly one agent; the agent owns its system prompt, its seed prompt for
// a fresh conversation, and its tool set.
type Agent interface {
	Phase() models.Phase
	Name() string
	SystemPrompt() string
	SeedPrompt(ws *workspace.Workspace, st *models.WorkflowState) (string, error)
	Tools() *tools.Registry
}

// ForPhase returns the agent responsible for a phase. The set is closed:
// an unknown or terminal phase is a configuration error, not a fallthrough.
func ForPhase(phase models.Phase) (Agent, error) {
	switch phase {
	case models.PhasePlanning:
		return &PlanningAgent{tools: tools.PlanningTools()}, nil
	case models.PhasePlanCritique:
		return &PlanCritiqueAgent{tools: tools.PlanCritiqueTools()}, nil
	case models.PhaseWriting:
		return &WritingAgent{tools: tools.WritingTools()}, nil
	case models.PhaseWriteCritique:
		return &WriteCritiqueAgent{tools: tools.WriteCritiqueTools()}, nil
	default:
		return nil, fmt.Errorf("no agent for phase %q", phase)
	}
}
