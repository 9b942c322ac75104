package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// WriteCritiqueTools returns the tool set for the WRITE_CRITIQUE phase
func WriteCritiqueTools() *Registry {
	return NewRegistry(
		loadChunkForReviewTool{},
		loadContextForCritiqueTool{},
		critiqueChunkTool{},
		approveChunkTool{},
		requestRevisionTool{},
	)
}

type loadChunkForReviewTool struct{}

func (loadChunkForReviewTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "load_chunk_for_review",
		Description: "Load the full text of the chunk awaiting review.",
		Parameters:  emptyObjectSchema,
	}
}

func (loadChunkForReviewTool) Execute(_ context.Context, inv *Invocation) Result {
	cur := inv.State.CurrentChunk
	content, err := inv.Workspace.ReadChunk(cur)
	if err != nil {
		return failure(err.Error())
	}

	res := success(fmt.Sprintf("Loaded chunk %d for review.", cur))
	res.Data = map[string]any{"chunk": cur, "content": content}
	return res
}

type loadContextForCritiqueTool struct{}

func (loadContextForCritiqueTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "load_context_for_critique",
		Description: "Load the plot outline and the tail of the previous chunk to judge continuity.",
		Parameters:  emptyObjectSchema,
	}
}

func (loadContextForCritiqueTool) Execute(_ context.Context, inv *Invocation) Result {
	outline, err := inv.Workspace.ReadPlanningFile(workspace.PlanningOutlineFile)
	if err != nil {
		return failure(err.Error())
	}

	data := map[string]any{"outline": outline}
	if cur := inv.State.CurrentChunk; cur > 1 {
		if prev, err := inv.Workspace.ReadChunk(cur - 1); err == nil {
			data["previous_chunk_tail"] = util.TailString(prev, previousChunkTailRunes)
		}
	}

	res := success("Critique context loaded.")
	res.Data = data
	return res
}

type critiqueChunkTool struct{}

func (critiqueChunkTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "critique_chunk",
		Description: "Record a critique of the current chunk: prose quality, continuity, pacing, and outline fidelity.",
		Parameters:  contentSchema("Full markdown critique of the chunk"),
	}
}

func (critiqueChunkTool) Execute(_ context.Context, inv *Invocation) Result {
	var args contentArgs
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return failure("content is required")
	}

	cur := inv.State.CurrentChunk
	version := inv.State.RevisionCounts[cur] + 1
	if err := inv.Workspace.WriteChunkCritique(cur, version, args.Content); err != nil {
		return failure(err.Error())
	}

	res := success(fmt.Sprintf("Critique v%d of chunk %d recorded.", version, cur))
	res.Data = map[string]any{"chunk": cur, "version": version}
	return res
}

type approveChunkTool struct{}

func (approveChunkTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "approve_chunk",
		Description: "Approve the current chunk. Advances to the next chunk, or completes the manuscript if this was the last one.",
		Parameters:  emptyObjectSchema,
	}
}

func (approveChunkTool) Execute(_ context.Context, inv *Invocation) Result {
	cur := inv.State.CurrentChunk
	if !inv.Workspace.ChunkExists(cur) {
		return failure(fmt.Sprintf("chunk %d has not been written yet", cur))
	}

	note := fmt.Sprintf("Chunk %d approved after %d revision(s).\n", cur, inv.State.RevisionCounts[cur])
	if err := inv.Workspace.WriteApprovalNote(fmt.Sprintf("chunk_%02d_approved.md", cur), note); err != nil {
		return failure(err.Error())
	}

	inv.State.ApprovedChunks++

	if inv.State.ApprovedChunks >= inv.State.TotalChunks {
		res := success(fmt.Sprintf("Chunk %d approved. All %d chunks complete.", cur, inv.State.TotalChunks))
		res.Transition = &Transition{To: models.PhaseComplete, Reason: "all chunks approved"}
		return res
	}

	inv.State.CurrentChunk++
	res := success(fmt.Sprintf("Chunk %d approved. Moving on to chunk %d of %d.",
		cur, inv.State.CurrentChunk, inv.State.TotalChunks))
	res.Transition = &Transition{To: models.PhaseWriting, Reason: fmt.Sprintf("chunk %d approved", cur)}
	return res
}

type requestRevisionTool struct{}

func (requestRevisionTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "request_revision",
		Description: "Send the current chunk back for revision with concrete feedback. Refused once the revision limit is reached.",
		Parameters: []byte(`{
			"type": "object",
			"properties": {
				"feedback": {"type": "string", "description": "Specific, actionable revision instructions"}
			},
			"required": ["feedback"]
		}`),
	}
}

func (requestRevisionTool) Execute(_ context.Context, inv *Invocation) Result {
	var args struct {
		Feedback string `json:"feedback"`
	}
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Feedback) == "" {
		return failure("feedback is required")
	}

	cur := inv.State.CurrentChunk
	if inv.State.RevisionCounts[cur] >= inv.MaxRevisionsPerChunk {
		return failure(fmt.Sprintf(
			"revision limit (%d) reached for chunk %d; call approve_chunk to accept the current draft",
			inv.MaxRevisionsPerChunk, cur))
	}

	inv.State.RevisionCounts[cur]++
	version := inv.State.RevisionCounts[cur]
	if err := inv.Workspace.WriteRevisionRequest(cur, version, args.Feedback); err != nil {
		return failure(err.Error())
	}

	res := success(fmt.Sprintf("Revision v%d requested for chunk %d.", version, cur))
	res.Data = map[string]any{"chunk": cur, "version": version}
	res.Transition = &Transition{To: models.PhaseWriting, Reason: fmt.Sprintf("revision requested for chunk %d", cur)}
	return res
}
