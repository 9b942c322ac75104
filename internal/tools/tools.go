package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

// Invocation carries everything a tool may touch. The workspace handle is
// passed explicitly; tools never reach for global project paths.
type Invocation struct {
	Workspace            *workspace.Workspace
	State                *models.WorkflowState
	Args                 json.RawMessage
	MaxRevisionsPerChunk int
	Logger               *slog.Logger
}

// Result is the outcome of one tool execution. It is serialized into the
// tool result message verbatim, so the model sees success flags and data.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// Transition, when set, asks the orchestrator to move to another phase.
	// Not serialized; the model learns about transitions from Message.
	Transition *Transition `json:"-"`
}

// Transition is a tool's request to change phase
type Transition struct {
	To     models.Phase
	Reason string
}

// Tool is one callable operation exposed to a phase agent
type Tool interface {
	Definition() api.ToolDefinition
	Execute(ctx context.Context, inv *Invocation) Result
}

// Registry holds the tool set of one phase, preserving declaration order
// for stable advertisement to the model.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry builds a registry from an ordered tool list
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Definition().Name
		r.order = append(r.order, name)
		r.byName[name] = t
	}
	return r
}

// Get returns the named tool
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Definitions returns the wire-format tool list for a completion request
func (r *Registry) Definitions() []api.Tool {
	defs := make([]api.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, api.Tool{Type: "function", Function: r.byName[name].Definition()})
	}
	return defs
}

// Names returns the tool names in declaration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// failure builds an error result
func failure(msg string) Result {
	return Result{Success: false, Error: msg}
}

// success builds a success result with an optional message
func success(msg string) Result {
	return Result{Success: true, Message: msg}
}

// decodeArgs unmarshals tool arguments into a typed struct
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}
