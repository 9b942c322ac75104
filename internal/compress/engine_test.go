package compress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/tokens"
	"github.com/storyloom/storyloom/pkg/models"
)

type fakeSummaryClient struct {
	summary string
	err     error
	calls   int
	lastMsg []models.Message
}

func (f *fakeSummaryClient) ChatCompletion(_ context.Context, _ config.ModelConfig, _ string, messages []models.Message, _ int, _ float64) (*api.ChatCompletionResponse, error) {
	f.calls++
	f.lastMsg = messages
	if f.err != nil {
		return nil, f.err
	}
	return &api.ChatCompletionResponse{
		Choices: []api.Choice{
			{Message: models.Message{Role: models.RoleAssistant, Content: f.summary}},
		},
	}, nil
}

func testEngine(client summaryClient, keepRecent int) *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(client, config.ModelConfig{ModelName: "summary-model"}, "key",
		tokens.HeuristicEstimator{},
		config.CompressionConfig{TokenLimit: 200, Threshold: 100, KeepRecent: keepRecent},
		logger)
}

func history(n int) []models.Message {
	msgs := []models.Message{models.NewSystemMessage("You are the Creative Writer.")}
	for i := 0; i < n; i++ {
		msgs = append(msgs, models.NewUserMessage(fmt.Sprintf("message %d", i)))
	}
	return msgs
}

func TestShouldCompress(t *testing.T) {
	engine := testEngine(&fakeSummaryClient{summary: "s"}, 4)

	short := []models.Message{models.NewUserMessage("hi")}
	if should, _ := engine.ShouldCompress(context.Background(), short); should {
		t.Error("Expected no compression below threshold")
	}

	// ~500 chars is ~125 estimated tokens, over the threshold of 100
	long := []models.Message{models.NewUserMessage(strings.Repeat("word ", 100))}
	should, count := engine.ShouldCompress(context.Background(), long)
	if !should {
		t.Errorf("Expected compression above threshold, estimate was %d", count)
	}
}

func TestCompress_SkipsShortHistories(t *testing.T) {
	client := &fakeSummaryClient{summary: "unused"}
	engine := testEngine(client, 10)

	msgs := history(5)
	out, summary, err := engine.Compress(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if summary != "" {
		t.Error("Expected no summary for a short history")
	}
	if len(out) != len(msgs) {
		t.Errorf("Expected history unchanged, got %d messages", len(out))
	}
	if client.calls != 0 {
		t.Errorf("Expected no summary call, got %d", client.calls)
	}
}

func TestCompress_PreservesSystemAndRecent(t *testing.T) {
	client := &fakeSummaryClient{summary: "Chapters 1-3 were planned and approved."}
	engine := testEngine(client, 4)

	msgs := history(20)
	out, summary, err := engine.Compress(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if summary == "" {
		t.Fatal("Expected a summary")
	}

	// system + summary message + keepRecent
	if len(out) != 6 {
		t.Fatalf("Expected 6 messages after compression, got %d", len(out))
	}
	if out[0].Role != models.RoleSystem {
		t.Error("Expected leading system message preserved")
	}
	if !strings.Contains(out[1].Content, SummaryStartMarker) || !strings.Contains(out[1].Content, SummaryEndMarker) {
		t.Error("Expected summary message bracketed by markers")
	}
	if !strings.Contains(out[1].Content, client.summary) {
		t.Error("Expected summary text inside the marker block")
	}
	if out[len(out)-1].Content != "message 19" {
		t.Errorf("Expected most recent message preserved verbatim, got '%s'", out[len(out)-1].Content)
	}
}

func TestCompress_SummaryFailurePropagates(t *testing.T) {
	client := &fakeSummaryClient{err: errors.New("model unavailable")}
	engine := testEngine(client, 4)

	msgs := history(20)
	out, _, err := engine.Compress(context.Background(), msgs)
	if err == nil {
		t.Fatal("Expected an error when the summary call fails")
	}
	// The original history must come back untouched so the workflow continues
	if len(out) != len(msgs) {
		t.Errorf("Expected original history on failure, got %d messages", len(out))
	}
}

func TestCompress_EmptySummaryIsError(t *testing.T) {
	client := &fakeSummaryClient{summary: "   "}
	engine := testEngine(client, 4)

	if _, _, err := engine.Compress(context.Background(), history(20)); err == nil {
		t.Error("Expected an error for an empty summary")
	}
}

func TestCompress_SummaryPromptIncludesToolCalls(t *testing.T) {
	client := &fakeSummaryClient{summary: "summary"}
	engine := testEngine(client, 2)

	msgs := history(10)
	msgs[3].ToolCalls = []models.ToolCall{
		{ID: "call_1", Type: "function", Function: models.FunctionCall{Name: "write_chunk", Arguments: `{"content":"x"}`}},
	}

	if _, _, err := engine.Compress(context.Background(), msgs); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(client.lastMsg) != 2 {
		t.Fatalf("Expected system+user summary prompt, got %d messages", len(client.lastMsg))
	}
	if !strings.Contains(client.lastMsg[1].Content, "write_chunk") {
		t.Error("Expected tool activity rendered into the summary prompt")
	}
}
