package api

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/pkg/models"
)

// Assembler merges streaming deltas into one canonical assistant message.
// Tool-call fragments are accumulated by index: the id is taken from the
// first fragment that carries one, the function name is overwritten by any
// non-empty fragment, and argument text is always appended. Downstream code
// never sees partial state; the message exists only after Message().
type Assembler struct {
	id      string
	model   string
	created int64

	role         string
	content      strings.Builder
	reasoning    strings.Builder
	finishReason string
	usage        Usage

	drafts map[int]*toolCallDraft
}

type toolCallDraft struct {
	id       string
	callType string
	name     string
	args     strings.Builder
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{
		drafts: make(map[int]*toolCallDraft),
	}
}

// Consume folds one streaming chunk into the accumulated state
func (a *Assembler) Consume(chunk *StreamChunk) {
	if a.id == "" {
		a.id = chunk.ID
		a.model = chunk.Model
		a.created = chunk.Created
	}

	if chunk.Usage != nil {
		a.usage = *chunk.Usage
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Role != "" {
		a.role = delta.Role
	}
	if delta.Content != "" {
		a.content.WriteString(delta.Content)
	}
	if delta.ReasoningContent != "" {
		a.reasoning.WriteString(delta.ReasoningContent)
	}

	for _, tc := range delta.ToolCalls {
		draft, ok := a.drafts[tc.Index]
		if !ok {
			draft = &toolCallDraft{}
			a.drafts[tc.Index] = draft
		}
		if draft.id == "" && tc.ID != "" {
			draft.id = tc.ID
		}
		if draft.callType == "" && tc.Type != "" {
			draft.callType = tc.Type
		}
		if tc.Function.Name != "" {
			draft.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			draft.args.WriteString(tc.Function.Arguments)
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finishReason = *choice.FinishReason
	}
}

// Message finalizes the accumulated deltas into a canonical message.
// Missing call ids are synthesized so every tool call can be paired with
// its result, and empty argument text becomes an empty JSON object.
func (a *Assembler) Message() models.Message {
	role := a.role
	if role == "" {
		role = models.RoleAssistant
	}

	content := a.content.String()
	reasoning := a.reasoning.String()
	if reasoning == "" && util.ContainsThinkTags(content) {
		reasoning, content = util.SplitThinkAndAnswer(content)
	}

	msg := models.Message{
		Role:             role,
		Content:          content,
		ReasoningContent: reasoning,
	}

	if len(a.drafts) == 0 {
		return msg
	}

	indices := make([]int, 0, len(a.drafts))
	for idx := range a.drafts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		draft := a.drafts[idx]
		id := draft.id
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		callType := draft.callType
		if callType == "" {
			callType = "function"
		}
		args := draft.args.String()
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:   id,
			Type: callType,
			Function: models.FunctionCall{
				Name:      draft.name,
				Arguments: args,
			},
		})
	}

	return msg
}

// FinishReason returns the finish reason reported by the stream
func (a *Assembler) FinishReason() string {
	return a.finishReason
}

// Response wraps the assembled message in a non-streaming response shape
func (a *Assembler) Response() *ChatCompletionResponse {
	return &ChatCompletionResponse{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
		Choices: []Choice{
			{
				Index:        0,
				Message:      a.Message(),
				FinishReason: a.finishReason,
			},
		},
		Usage: a.usage,
	}
}
