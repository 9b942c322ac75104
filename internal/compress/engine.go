package compress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/tokens"
	"github.com/storyloom/storyloom/internal/util"
	"github.com/storyloom/storyloom/pkg/models"
)

// Markers bracketing an injected context summary so both the model and a
// human reading the history can see where compressed context begins.
const (
	SummaryStartMarker = "[CONTEXT SUMMARY - Previous conversation compressed]"
	SummaryEndMarker   = "[END CONTEXT SUMMARY - Continuing from here...]"
)

const (
	summaryTemperature = 0.7
	summaryMaxTokens   = 4096
)

const summarySystemPrompt = `You are a conversation summarizer for a long-form writing workflow.
Summarize the conversation below, preserving every fact needed to continue the work:
decisions made, documents written and their key contents, chunk numbers, critique
feedback, and anything the writer promised to do later. Be thorough but concise.`

// summaryClient is the single-shot completion surface the engine needs
type summaryClient interface {
	ChatCompletion(ctx context.Context, modelCfg config.ModelConfig, apiKey string, messages []models.Message, maxTokens int, temperature float64) (*api.ChatCompletionResponse, error)
}

// Engine compresses conversation histories that approach the context
// budget. The most recent messages survive verbatim; everything older is
// replaced by a single model-written summary. Compression failure is never
// fatal: callers keep the uncompressed history and try again later.
type Engine struct {
	client     summaryClient
	modelCfg   config.ModelConfig
	apiKey     string
	estimator  tokens.Estimator
	threshold  int
	keepRecent int
	logger     *slog.Logger
}

// NewEngine creates a compression engine
func NewEngine(client summaryClient, modelCfg config.ModelConfig, apiKey string, estimator tokens.Estimator, cfg config.CompressionConfig, logger *slog.Logger) *Engine {
	return &Engine{
		client:     client,
		modelCfg:   modelCfg,
		apiKey:     apiKey,
		estimator:  estimator,
		threshold:  cfg.Threshold,
		keepRecent: cfg.KeepRecent,
		logger:     logger,
	}
}

// ShouldCompress reports whether the history has reached the threshold,
// along with the estimated token count.
func (e *Engine) ShouldCompress(ctx context.Context, messages []models.Message) (bool, int) {
	count, err := e.estimator.Estimate(ctx, messages)
	if err != nil {
		e.logger.Warn("Token estimate failed, skipping compression check", "error", err)
		return false, 0
	}
	return count >= e.threshold, count
}

// Compress replaces older messages with a summary. Histories at or below
// keepRecent+1 messages are returned unchanged: there is nothing old enough
// to fold away.
func (e *Engine) Compress(ctx context.Context, messages []models.Message) ([]models.Message, string, error) {
	if len(messages) <= e.keepRecent+1 {
		return messages, "", nil
	}

	head := 0
	var system *models.Message
	if messages[0].Role == models.RoleSystem {
		system = &messages[0]
		head = 1
	}

	cut := len(messages) - e.keepRecent
	if cut <= head {
		return messages, "", nil
	}
	older := messages[head:cut]
	recent := messages[cut:]

	summary, err := e.summarize(ctx, older)
	if err != nil {
		return messages, "", fmt.Errorf("summary call failed: %w", err)
	}

	compressed := make([]models.Message, 0, e.keepRecent+2)
	if system != nil {
		compressed = append(compressed, *system)
	}
	compressed = append(compressed, models.NewUserMessage(
		SummaryStartMarker+"\n\n"+summary+"\n\n"+SummaryEndMarker))
	compressed = append(compressed, recent...)

	e.logger.Info("Compressed conversation history",
		"before", len(messages),
		"after", len(compressed),
		"summarized", len(older))

	return compressed, summary, nil
}

func (e *Engine) summarize(ctx context.Context, older []models.Message) (string, error) {
	prompt := []models.Message{
		models.NewSystemMessage(summarySystemPrompt),
		models.NewUserMessage(renderForSummary(older)),
	}

	resp, err := e.client.ChatCompletion(ctx, e.modelCfg, e.apiKey, prompt, summaryMaxTokens, summaryTemperature)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("summary model returned empty content")
	}
	return summary, nil
}

// renderForSummary flattens messages into plain text for the summarizer
func renderForSummary(messages []models.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&b, "[%s]\n", msg.Role)
		if msg.Content != "" {
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
		for _, tc := range msg.ToolCalls {
			fmt.Fprintf(&b, "(called tool %s with %s)\n",
				tc.Function.Name, util.TruncateString(tc.Function.Arguments, 400))
		}
		b.WriteString("\n")
	}
	return b.String()
}
