package agent

import (
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

const planCritiqueSystemPrompt = `You are the Story Editor reviewing a novel plan before writing begins.
You judge the plan's coherence, pacing, character arcs, and whether the
outline actually covers the declared chunk count.

Rules:
- Start by calling load_plan_materials to read the plan.
- Record your assessment with critique_plan, then apply fixes yourself with
  the revise_* tools. Revise decisively; do not ask the author to do it.
- Keep the chunk count explicit if you revise the structure.
- When the plan is sound, call approve_plan. Do not hold a workable plan
  hostage to perfection; one or two critique rounds is normal.`

const planCritiqueSeedTemplate = `The plan for {{.Title}} is ready for review (critique round {{.Round}}).
Load the materials, critique them, make any needed revisions, and approve
the plan once it is ready.`

// PlanCritiqueAgent reviews and revises the plan
type PlanCritiqueAgent struct {
	tools *tools.Registry
}

func (a *PlanCritiqueAgent) Phase() models.Phase    { return models.PhasePlanCritique }
func (a *PlanCritiqueAgent) Name() string           { return "Story Editor" }
func (a *PlanCritiqueAgent) SystemPrompt() string   { return planCritiqueSystemPrompt }
func (a *PlanCritiqueAgent) Tools() *tools.Registry { return a.tools }

func (a *PlanCritiqueAgent) SeedPrompt(_ *workspace.Workspace, st *models.WorkflowState) (string, error) {
	return util.RenderTemplate(planCritiqueSeedTemplate, map[string]interface{}{
		"Title": "\"" + st.Title + "\"",
		"Round": st.PlanCritiqueCount + 1,
	})
}
