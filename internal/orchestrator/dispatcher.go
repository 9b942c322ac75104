package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/storyloom/storyloom/internal/agent"
	"github.com/storyloom/storyloom/internal/tools"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/pkg/models"
)

// dispatchToolCalls executes a batch of tool calls sequentially, in the
// order the model issued them. Every call produces exactly one result
// message, in matching order; a failing tool yields a failure result and
// the batch continues. Transition requests are collected for arbitration,
// not applied here.
func (o *Orchestrator) dispatchToolCalls(
	ctx context.Context,
	ag agent.Agent,
	calls []models.ToolCall,
) ([]models.Message, []tools.Transition) {
	results := make([]models.Message, 0, len(calls))
	var transitions []tools.Transition

	for _, call := range calls {
		name := call.Function.Name
		o.obs.ToolCallStarted(name)
		res := o.executeTool(ctx, ag, name, call.Function.Arguments)
		o.obs.ToolCallFinished(name, res.Success)

		o.st.Stats.ToolExecutions++
		if o.metrics != nil {
			o.metrics.RecordToolExecution(name, res.Success)
		}
		if !res.Success {
			o.logger.Warn("Tool execution failed", "tool", name, "error", res.Error)
		}

		content, err := json.Marshal(res)
		if err != nil {
			// Result data must be JSON-safe; fall back to a bare failure
			content = []byte(`{"success":false,"error":"failed to encode tool result"}`)
			o.logger.Error("Failed to encode tool result", "tool", name, "error", err)
		}
		results = append(results, models.NewToolResultMessage(call.ID, name, string(content)))

		if res.Transition != nil {
			transitions = append(transitions, *res.Transition)
		}
	}

	return results, transitions
}

func (o *Orchestrator) executeTool(ctx context.Context, ag agent.Agent, name, rawArgs string) tools.Result {
	tool, ok := ag.Tools().Get(name)
	if !ok {
		return tools.Result{Success: false, Error: "unknown tool: " + name}
	}

	inv := &tools.Invocation{
		Workspace:            o.ws,
		State:                o.st,
		Args:                 o.normalizeArgs(name, rawArgs),
		MaxRevisionsPerChunk: o.cfg.Workflow.MaxRevisionsPerChunk,
		Logger:               o.logger,
	}
	return tool.Execute(ctx, inv)
}

// normalizeArgs repairs model-produced argument JSON where possible and
// degrades malformed arguments to an empty object so the tool still runs
// and can report what is missing.
func (o *Orchestrator) normalizeArgs(tool, rawArgs string) json.RawMessage {
	if json.Valid([]byte(rawArgs)) {
		return json.RawMessage(rawArgs)
	}

	sanitized := util.SanitizeJSON(rawArgs)
	if json.Valid([]byte(sanitized)) {
		o.logger.Debug("Sanitized malformed tool arguments", "tool", tool)
		return json.RawMessage(sanitized)
	}

	o.logger.Warn("Malformed tool arguments, dispatching with empty args",
		"tool", tool,
		"args", util.TruncateString(rawArgs, 200))
	return json.RawMessage("{}")
}
