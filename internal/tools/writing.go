package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/pkg/models"
)

// previousChunkTailRunes bounds how much prior prose gets handed back as
// context; the full text lives on disk and can be loaded explicitly.
const previousChunkTailRunes = 3000

// WritingTools returns the tool set for the WRITING phase
func WritingTools() *Registry {
	return NewRegistry(
		loadApprovedPlanTool{},
		getChunkContextTool{},
		writeChunkTool{},
		reviewPreviousWritingTool{},
		finalizeChunkTool{},
	)
}

type loadApprovedPlanTool struct{}

func (loadApprovedPlanTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "load_approved_plan",
		Description: "Load the approved planning documents (summary, characters, structure, outline).",
		Parameters:  emptyObjectSchema,
	}
}

func (loadApprovedPlanTool) Execute(_ context.Context, inv *Invocation) Result {
	docs, err := loadPlanMaterials(inv.Workspace)
	if err != nil {
		return failure(err.Error())
	}
	res := success("Approved plan loaded.")
	res.Data = docs
	return res
}

type getChunkContextTool struct{}

func (getChunkContextTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "get_chunk_context",
		Description: "Get the current chunk number, progress, the tail of the previous chunk, and any pending revision feedback.",
		Parameters:  emptyObjectSchema,
	}
}

func (getChunkContextTool) Execute(_ context.Context, inv *Invocation) Result {
	cur := inv.State.CurrentChunk
	data := map[string]any{
		"current_chunk":   cur,
		"total_chunks":    inv.State.TotalChunks,
		"approved_chunks": inv.State.ApprovedChunks,
		"revision_count":  inv.State.RevisionCounts[cur],
	}

	if cur > 1 {
		prev, err := inv.Workspace.ReadChunk(cur - 1)
		if err == nil {
			data["previous_chunk_tail"] = util.TailString(prev, previousChunkTailRunes)
		}
	}

	if version := inv.State.RevisionCounts[cur]; version > 0 {
		feedback, err := inv.Workspace.ReadRevisionRequest(cur, version)
		if err == nil {
			data["revision_request"] = feedback
		}
	}

	res := success(fmt.Sprintf("Context for chunk %d of %d.", cur, inv.State.TotalChunks))
	res.Data = data
	return res
}

type writeChunkTool struct{}

func (writeChunkTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "write_chunk",
		Description: "Write the full prose of the current chunk. Overwrites any previous draft of this chunk.",
		Parameters:  contentSchema("Complete prose of the chunk in markdown"),
	}
}

func (writeChunkTool) Execute(_ context.Context, inv *Invocation) Result {
	var args contentArgs
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return failure("content is required")
	}

	cur := inv.State.CurrentChunk
	if err := inv.Workspace.WriteChunk(cur, args.Content); err != nil {
		return failure(err.Error())
	}

	res := success(fmt.Sprintf("Chunk %d draft saved (%d characters).", cur, len(args.Content)))
	res.Data = map[string]any{"chunk": cur}
	return res
}

type reviewPreviousWritingTool struct{}

func (reviewPreviousWritingTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "review_previous_writing",
		Description: "Read the tail of recently approved chunks to keep continuity of voice and detail.",
		Parameters: []byte(`{
			"type": "object",
			"properties": {
				"count": {"type": "integer", "description": "How many previous chunks to review (default 1)"}
			}
		}`),
	}
}

func (reviewPreviousWritingTool) Execute(_ context.Context, inv *Invocation) Result {
	var args struct {
		Count int `json:"count"`
	}
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if args.Count < 1 {
		args.Count = 1
	}

	cur := inv.State.CurrentChunk
	first := cur - args.Count
	if first < 1 {
		first = 1
	}

	chunks := make(map[string]any)
	for n := first; n < cur; n++ {
		content, err := inv.Workspace.ReadChunk(n)
		if err != nil {
			continue
		}
		chunks[fmt.Sprintf("chunk_%02d", n)] = util.TailString(content, previousChunkTailRunes)
	}

	if len(chunks) == 0 {
		return success("No previous chunks to review yet.")
	}
	res := success(fmt.Sprintf("Loaded %d previous chunk(s).", len(chunks)))
	res.Data = chunks
	return res
}

type finalizeChunkTool struct{}

func (finalizeChunkTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "finalize_chunk",
		Description: "Submit the current chunk draft for critique. Fails if the chunk has not been written.",
		Parameters:  emptyObjectSchema,
	}
}

func (finalizeChunkTool) Execute(_ context.Context, inv *Invocation) Result {
	cur := inv.State.CurrentChunk
	if !inv.Workspace.ChunkExists(cur) {
		return failure(fmt.Sprintf("chunk %d has not been written yet", cur))
	}

	res := success(fmt.Sprintf("Chunk %d submitted for critique.", cur))
	res.Transition = &Transition{To: models.PhaseWriteCritique, Reason: fmt.Sprintf("chunk %d finalized", cur)}
	return res
}
