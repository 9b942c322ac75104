package api

import (
	"strings"
	"testing"
)

func contentChunk(content string) *StreamChunk {
	return &StreamChunk{
		ID:    "chatcmpl-test",
		Model: "test-model",
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{Content: content}},
		},
	}
}

func TestAssembler_ContentAndReasoning(t *testing.T) {
	a := NewAssembler()

	a.Consume(&StreamChunk{
		ID:    "chatcmpl-1",
		Model: "test-model",
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{Role: "assistant"}},
		},
	})
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{ReasoningContent: "thinking about "}},
		},
	})
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{ReasoningContent: "the plot"}},
		},
	})
	a.Consume(contentChunk("Hello, "))
	a.Consume(contentChunk("world."))

	finish := "stop"
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{}, FinishReason: &finish},
		},
	})

	msg := a.Message()
	if msg.Role != "assistant" {
		t.Errorf("Expected role 'assistant', got '%s'", msg.Role)
	}
	if msg.Content != "Hello, world." {
		t.Errorf("Expected content 'Hello, world.', got '%s'", msg.Content)
	}
	if msg.ReasoningContent != "thinking about the plot" {
		t.Errorf("Expected reasoning 'thinking about the plot', got '%s'", msg.ReasoningContent)
	}
	if a.FinishReason() != "stop" {
		t.Errorf("Expected finish reason 'stop', got '%s'", a.FinishReason())
	}
}

func TestAssembler_ThinkTagSplit(t *testing.T) {
	a := NewAssembler()
	a.Consume(contentChunk("<think>plan the scene"))
	a.Consume(contentChunk(" carefully</think>The rain fell."))

	msg := a.Message()
	if msg.ReasoningContent != "plan the scene carefully" {
		t.Errorf("Expected reasoning extracted from think tags, got '%s'", msg.ReasoningContent)
	}
	if msg.Content != "The rain fell." {
		t.Errorf("Expected content 'The rain fell.', got '%s'", msg.Content)
	}
}

func TestAssembler_ThinkTagsIgnoredWhenReasoningStreamed(t *testing.T) {
	a := NewAssembler()
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{ReasoningContent: "native reasoning"}},
		},
	})
	a.Consume(contentChunk("<think>stale</think>answer"))

	msg := a.Message()
	if msg.ReasoningContent != "native reasoning" {
		t.Errorf("Expected native reasoning to win, got '%s'", msg.ReasoningContent)
	}
	if !strings.Contains(msg.Content, "<think>") {
		t.Error("Expected content untouched when reasoning came through its own channel")
	}
}

func TestAssembler_ToolCallMerge(t *testing.T) {
	a := NewAssembler()

	// Two tool calls interleaved across chunks. The id arrives once, the
	// name is repeated by later fragments, and arguments stream in pieces.
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{ToolCalls: []ToolCallDelta{
			{Index: 0, ID: "call_abc", Type: "function", Function: FunctionDelta{Name: "write_chunk", Arguments: `{"content":`}},
		}}}},
	})
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{ToolCalls: []ToolCallDelta{
			{Index: 1, ID: "call_def", Function: FunctionDelta{Name: "finalize_chunk"}},
		}}}},
	})
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{ToolCalls: []ToolCallDelta{
			{Index: 0, Function: FunctionDelta{Name: "write_chunk", Arguments: `"text"}`}},
		}}}},
	})

	msg := a.Message()
	if len(msg.ToolCalls) != 2 {
		t.Fatalf("Expected 2 tool calls, got %d", len(msg.ToolCalls))
	}

	first := msg.ToolCalls[0]
	if first.ID != "call_abc" {
		t.Errorf("Expected id 'call_abc', got '%s'", first.ID)
	}
	if first.Function.Name != "write_chunk" {
		t.Errorf("Expected name 'write_chunk', got '%s'", first.Function.Name)
	}
	if first.Function.Arguments != `{"content":"text"}` {
		t.Errorf("Expected arguments appended in order, got '%s'", first.Function.Arguments)
	}

	second := msg.ToolCalls[1]
	if second.Function.Name != "finalize_chunk" {
		t.Errorf("Expected name 'finalize_chunk', got '%s'", second.Function.Name)
	}
	if second.Function.Arguments != "{}" {
		t.Errorf("Expected empty arguments normalized to '{}', got '%s'", second.Function.Arguments)
	}
	if second.Type != "function" {
		t.Errorf("Expected type defaulted to 'function', got '%s'", second.Type)
	}
}

func TestAssembler_SynthesizesMissingCallID(t *testing.T) {
	a := NewAssembler()
	a.Consume(&StreamChunk{
		Choices: []StreamChoice{{Index: 0, Delta: StreamDelta{ToolCalls: []ToolCallDelta{
			{Index: 0, Function: FunctionDelta{Name: "create_project", Arguments: `{"title":"Test"}`}},
		}}}},
	})

	msg := a.Message()
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("Expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	if !strings.HasPrefix(msg.ToolCalls[0].ID, "call_") {
		t.Errorf("Expected synthesized id with 'call_' prefix, got '%s'", msg.ToolCalls[0].ID)
	}
	if len(msg.ToolCalls[0].ID) <= len("call_") {
		t.Error("Expected synthesized id to carry a unique suffix")
	}
}

func TestAssembler_Response(t *testing.T) {
	a := NewAssembler()
	a.Consume(&StreamChunk{
		ID:      "chatcmpl-99",
		Model:   "test-model",
		Created: 1234567890,
		Choices: []StreamChoice{
			{Index: 0, Delta: StreamDelta{Role: "assistant", Content: "done"}},
		},
	})

	resp := a.Response()
	if resp.ID != "chatcmpl-99" {
		t.Errorf("Expected id 'chatcmpl-99', got '%s'", resp.ID)
	}
	if resp.Model != "test-model" {
		t.Errorf("Expected model 'test-model', got '%s'", resp.Model)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "done" {
		t.Error("Expected assembled message in single choice")
	}
}
