package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// PlanningTools returns the tool set for the PLANNING phase
func PlanningTools() *Registry {
	return NewRegistry(
		createProjectTool{},
		createStorySummaryTool{},
		createDramatisPersonaeTool{},
		createStoryStructureTool{},
		createPlotOutlineTool{},
		finalizePlanTool{},
	)
}

// chunkCountRegex finds the planned chunk count in a story structure
// document, e.g. "The novel consists of 12 chunks."
var chunkCountRegex = regexp.MustCompile(`(?i)(\d+)\s+chunks?`)

// extractChunkCount scans structure text for the planned number of chunks
func extractChunkCount(content string) int {
	match := chunkCountRegex.FindStringSubmatch(content)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

type contentArgs struct {
	Content string `json:"content"`
}

type createProjectTool struct{}

func (createProjectTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "create_project",
		Description: "Register the project title. Call this once, before writing any planning documents.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "The working title of the novel"}
			},
			"required": ["title"]
		}`),
	}
}

func (createProjectTool) Execute(_ context.Context, inv *Invocation) Result {
	var args struct {
		Title string `json:"title"`
	}
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Title) == "" {
		return failure("title is required")
	}

	inv.State.Title = args.Title
	res := success(fmt.Sprintf("Project %q registered.", args.Title))
	res.Data = map[string]any{"project_id": inv.State.ProjectID, "title": args.Title}
	return res
}

type createStorySummaryTool struct{}

func (createStorySummaryTool) Definition() api.ToolDefinition {
	return planningDocDefinition("create_story_summary",
		"Write the story summary: premise, themes, tone, and intended audience.")
}

func (createStorySummaryTool) Execute(_ context.Context, inv *Invocation) Result {
	return writePlanningDoc(inv, workspace.PlanningSummaryFile, "story summary")
}

type createDramatisPersonaeTool struct{}

func (createDramatisPersonaeTool) Definition() api.ToolDefinition {
	return planningDocDefinition("create_dramatis_personae",
		"Write the dramatis personae: every significant character with motivation and arc.")
}

func (createDramatisPersonaeTool) Execute(_ context.Context, inv *Invocation) Result {
	return writePlanningDoc(inv, workspace.PlanningCharactersFile, "dramatis personae")
}

type createStoryStructureTool struct{}

func (createStoryStructureTool) Definition() api.ToolDefinition {
	return planningDocDefinition("create_story_structure",
		"Write the story structure. State explicitly how many chunks the manuscript will have, e.g. \"The novel consists of 12 chunks.\"")
}

func (createStoryStructureTool) Execute(_ context.Context, inv *Invocation) Result {
	var args contentArgs
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return failure("content is required")
	}

	if err := inv.Workspace.WritePlanningFile(workspace.PlanningStructureFile, args.Content); err != nil {
		return failure(err.Error())
	}

	count := extractChunkCount(args.Content)
	if count == 0 {
		res := success("Story structure saved, but no chunk count was found. Revise it to state the number of chunks explicitly (e.g. \"12 chunks\").")
		return res
	}

	inv.State.TotalChunks = count
	res := success(fmt.Sprintf("Story structure saved. Manuscript will have %d chunks.", count))
	res.Data = map[string]any{"total_chunks": count}
	return res
}

type createPlotOutlineTool struct{}

func (createPlotOutlineTool) Definition() api.ToolDefinition {
	return planningDocDefinition("create_plot_outline",
		"Write the chunk-by-chunk plot outline covering every chunk declared in the structure.")
}

func (createPlotOutlineTool) Execute(_ context.Context, inv *Invocation) Result {
	return writePlanningDoc(inv, workspace.PlanningOutlineFile, "plot outline")
}

type finalizePlanTool struct{}

func (finalizePlanTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "finalize_plan",
		Description: "Declare the plan complete and submit it for critique. Fails if any planning document is missing.",
		Parameters:  emptyObjectSchema,
	}
}

func (finalizePlanTool) Execute(_ context.Context, inv *Invocation) Result {
	if missing := inv.Workspace.MissingPlanningFiles(); len(missing) > 0 {
		return failure(fmt.Sprintf("cannot finalize plan, missing documents: %s", strings.Join(missing, ", ")))
	}
	if inv.State.TotalChunks == 0 {
		return failure("cannot finalize plan: the story structure does not state a chunk count")
	}

	res := success("Plan finalized. Moving to plan critique.")
	res.Transition = &Transition{To: models.PhasePlanCritique, Reason: "plan finalized"}
	return res
}

var emptyObjectSchema = json.RawMessage(`{"type": "object", "properties": {}}`)

func planningDocDefinition(name, description string) api.ToolDefinition {
	return api.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "Full markdown content of the document"}
			},
			"required": ["content"]
		}`),
	}
}

func writePlanningDoc(inv *Invocation, file, label string) Result {
	var args contentArgs
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return failure("content is required")
	}
	if err := inv.Workspace.WritePlanningFile(file, args.Content); err != nil {
		return failure(err.Error())
	}
	return success(fmt.Sprintf("Saved %s.", label))
}
