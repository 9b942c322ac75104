package agent

import (
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

const writingSystemPrompt = `You are the Creative Writer producing the manuscript of a novel,
one chunk at a time, following an approved plan.

Rules:
- Call load_approved_plan and get_chunk_context before drafting.
- Write complete, polished prose for the current chunk with write_chunk.
  One chunk is a full scene sequence, typically several thousand words.
- Maintain continuity with previous chunks; use review_previous_writing
  when you need more than the provided tail.
- If revision feedback exists for this chunk, address every point of it.
- When the draft is done, call finalize_chunk to submit it for critique.`

const writingSeedTemplate = `Write chunk {{.Chunk}} of {{.Total}} for {{.Title}}.
Load the plan and chunk context first, then draft the chunk and finalize it.`

const writingRevisionSeedTemplate = `Chunk {{.Chunk}} of {{.Total}} for {{.Title}} was sent back for revision (round {{.Round}}).

Revision feedback:
{{.Feedback}}

Rewrite the chunk addressing every point above, then finalize it again.`

// WritingAgent drafts manuscript chunks
type WritingAgent struct {
	tools *tools.Registry
}

func (a *WritingAgent) Phase() models.Phase    { return models.PhaseWriting }
func (a *WritingAgent) Name() string           { return "Creative Writer" }
func (a *WritingAgent) SystemPrompt() string   { return writingSystemPrompt }
func (a *WritingAgent) Tools() *tools.Registry { return a.tools }

// SeedPrompt embeds the latest revision feedback when this chunk has been
// sent back, so the rewrite starts from the critique instead of rediscovering it.
func (a *WritingAgent) SeedPrompt(ws *workspace.Workspace, st *models.WorkflowState) (string, error) {
	cur := st.CurrentChunk
	data := map[string]interface{}{
		"Title": "\"" + st.Title + "\"",
		"Chunk": cur,
		"Total": st.TotalChunks,
	}

	if round := st.RevisionCounts[cur]; round > 0 {
		feedback, err := ws.ReadRevisionRequest(cur, round)
		if err != nil {
			return "", err
		}
		data["Round"] = round
		data["Feedback"] = feedback
		return util.RenderTemplate(writingRevisionSeedTemplate, data)
	}

	return util.RenderTemplate(writingSeedTemplate, data)
}
