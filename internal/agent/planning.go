package agent

import (
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

const planningSystemPrompt = `You are the Story Architect for a long-form novel project.
Your job is to produce a complete, coherent plan before any prose is written:
a story summary, a dramatis personae, a story structure, and a chunk-by-chunk
plot outline.

Rules:
- Work through the provided tools; documents only exist once saved with a tool.
- The story structure MUST state the number of manuscript chunks explicitly
  (e.g. "The novel consists of 12 chunks.").
- The plot outline must cover every chunk declared in the structure.
- When all four documents are saved, call finalize_plan to submit the plan
  for critique. Do not finalize an incomplete plan.`

const planningSeedTemplate = `Begin planning the novel {{.Title}}.

Call create_project first, then write each planning document in order:
story summary, dramatis personae, story structure, plot outline. Finish by
calling finalize_plan.`

// PlanningAgent drafts the complete story plan
type PlanningAgent struct {
	tools *tools.Registry
}

func (a *PlanningAgent) Phase() models.Phase    { return models.PhasePlanning }
func (a *PlanningAgent) Name() string           { return "Story Architect" }
func (a *PlanningAgent) SystemPrompt() string   { return planningSystemPrompt }
func (a *PlanningAgent) Tools() *tools.Registry { return a.tools }

func (a *PlanningAgent) SeedPrompt(_ *workspace.Workspace, st *models.WorkflowState) (string, error) {
	title := st.Title
	if title == "" {
		title = "(untitled)"
	}
	return util.RenderTemplate(planningSeedTemplate, map[string]interface{}{
		"Title": "\"" + title + "\"",
	})
}
