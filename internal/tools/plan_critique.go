package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// PlanCritiqueTools returns the tool set for the PLAN_CRITIQUE phase
func PlanCritiqueTools() *Registry {
	return NewRegistry(
		loadPlanMaterialsTool{},
		critiquePlanTool{},
		reviseDocTool{name: "revise_summary", file: workspace.PlanningSummaryFile, label: "story summary"},
		reviseDocTool{name: "revise_characters", file: workspace.PlanningCharactersFile, label: "dramatis personae"},
		reviseStructureTool{},
		reviseDocTool{name: "revise_outline", file: workspace.PlanningOutlineFile, label: "plot outline"},
		approvePlanTool{},
	)
}

// loadPlanMaterials reads every planning document into the result data
func loadPlanMaterials(ws *workspace.Workspace) (map[string]any, error) {
	docs := make(map[string]any, len(workspace.PlanningFiles))
	keys := map[string]string{
		workspace.PlanningSummaryFile:    "summary",
		workspace.PlanningCharactersFile: "characters",
		workspace.PlanningStructureFile:  "structure",
		workspace.PlanningOutlineFile:    "outline",
	}
	for _, file := range workspace.PlanningFiles {
		content, err := ws.ReadPlanningFile(file)
		if err != nil {
			return nil, err
		}
		docs[keys[file]] = content
	}
	return docs, nil
}

type loadPlanMaterialsTool struct{}

func (loadPlanMaterialsTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "load_plan_materials",
		Description: "Load all planning documents (summary, characters, structure, outline) for review.",
		Parameters:  emptyObjectSchema,
	}
}

func (loadPlanMaterialsTool) Execute(_ context.Context, inv *Invocation) Result {
	docs, err := loadPlanMaterials(inv.Workspace)
	if err != nil {
		return failure(err.Error())
	}
	res := success("Plan materials loaded.")
	res.Data = docs
	return res
}

type critiquePlanTool struct{}

func (critiquePlanTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "critique_plan",
		Description: "Record a critique of the plan: strengths, weaknesses, and concrete revision instructions.",
		Parameters:  contentSchema("Full markdown critique of the plan"),
	}
}

func (critiquePlanTool) Execute(_ context.Context, inv *Invocation) Result {
	var args contentArgs
	if err := decodeArgs(inv.Args, &args); err != nil {
		return failure(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.Content) == "" {
		return failure("content is required")
	}

	inv.State.PlanCritiqueCount++
	version := inv.State.PlanCritiqueCount
	if err := inv.Workspace.WritePlanCritique(version, args.Content); err != nil {
		return failure(err.Error())
	}

	res := success(fmt.Sprintf("Plan critique v%d recorded.", version))
	res.Data = map[string]any{"version": version}
	return res
}

// reviseDocTool overwrites one planning document with revised content
type reviseDocTool struct {
	name  string
	file  string
	label string
}

func (t reviseDocTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        t.name,
		Description: fmt.Sprintf("Replace the %s with a revised version.", t.label),
		Parameters:  contentSchema(fmt.Sprintf("Full revised markdown content of the %s", t.label)),
	}
}

func (t reviseDocTool) Execute(_ context.Context, inv *Invocation) Result {
	return writePlanningDoc(inv, t.file, t.label)
}

// reviseStructureTool re-extracts the chunk count after a structure revision
type reviseStructureTool struct{}

func (reviseStructureTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "revise_structure",
		Description: "Replace the story structure with a revised version. Keep an explicit chunk count.",
		Parameters:  contentSchema("Full revised markdown content of the story structure"),
	}
}

func (reviseStructureTool) Execute(_ context.Context, inv *Invocation) Result {
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

	if count := extractChunkCount(args.Content); count > 0 {
		inv.State.TotalChunks = count
		res := success(fmt.Sprintf("Story structure revised. Manuscript will have %d chunks.", count))
		res.Data = map[string]any{"total_chunks": count}
		return res
	}
	return success("Story structure revised, but no chunk count was found; the previous count is kept.")
}

type approvePlanTool struct{}

func (approvePlanTool) Definition() api.ToolDefinition {
	return api.ToolDefinition{
		Name:        "approve_plan",
		Description: "Approve the plan and begin writing. Only call when the plan needs no further revision.",
		Parameters:  emptyObjectSchema,
	}
}

func (approvePlanTool) Execute(_ context.Context, inv *Invocation) Result {
	note := fmt.Sprintf("Plan approved after %d critique round(s).\n", inv.State.PlanCritiqueCount)
	if err := inv.Workspace.WriteApprovalNote("plan_approved.md", note); err != nil {
		return failure(err.Error())
	}

	res := success("Plan approved. Moving to writing.")
	res.Transition = &Transition{To: models.PhaseWriting, Reason: "plan approved"}
	return res
}

func contentSchema(description string) []byte {
	return []byte(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": %q}
		},
		"required": ["content"]
	}`, description))
}
