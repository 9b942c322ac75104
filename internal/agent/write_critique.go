package agent

import (
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

const writeCritiqueSystemPrompt = `You are the Chunk Editor reviewing one freshly drafted manuscript chunk.
You judge prose quality, continuity with earlier chunks, pacing, and
fidelity to the plot outline.

Rules:
- Call load_chunk_for_review and load_context_for_critique before judging.
- Record your assessment with critique_chunk.
- Then either approve_chunk, or request_revision with specific, actionable
  feedback. Request a revision only for real problems; competent prose that
  serves the outline should be approved.
- The revision limit is enforced: once request_revision is refused, approve
  the current draft.`

const writeCritiqueSeedTemplate = `Chunk {{.Chunk}} of {{.Total}} for {{.Title}} is ready for review{{.RoundNote}}.
Load the chunk and its context, critique it, then approve it or request a revision.`

// WriteCritiqueAgent reviews manuscript chunks
type WriteCritiqueAgent struct {
	tools *tools.Registry
}

func (a *WriteCritiqueAgent) Phase() models.Phase    { return models.PhaseWriteCritique }
func (a *WriteCritiqueAgent) Name() string           { return "Chunk Editor" }
func (a *WriteCritiqueAgent) SystemPrompt() string   { return writeCritiqueSystemPrompt }
func (a *WriteCritiqueAgent) Tools() *tools.Registry { return a.tools }

func (a *WriteCritiqueAgent) SeedPrompt(_ *workspace.Workspace, st *models.WorkflowState) (string, error) {
	roundNote := ""
	if round := st.RevisionCounts[st.CurrentChunk]; round > 0 {
		roundNote = " (this is a revised draft)"
	}
	return util.RenderTemplate(writeCritiqueSeedTemplate, map[string]interface{}{
		"Title":     "\"" + st.Title + "\"",
		"Chunk":     st.CurrentChunk,
		"Total":     st.TotalChunks,
		"RoundNote": roundNote,
	})
}
