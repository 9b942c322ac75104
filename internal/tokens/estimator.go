package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/storyloom/storyloom/pkg/models"
)

// Estimator approximates the token footprint of a conversation, used to
// decide when context compression should run.
type Estimator interface {
	Estimate(ctx context.Context, messages []models.Message) (int, error)
}

// HeuristicEstimator approximates tokens as characters divided by four.
// Tool call arguments count too; they occupy context like any other text.
type HeuristicEstimator struct{}

// Estimate implements Estimator
func (HeuristicEstimator) Estimate(_ context.Context, messages []models.Message) (int, error) {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content) + len(msg.ReasoningContent)
		for _, tc := range msg.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
	}
	return chars / 4, nil
}

// RemoteEstimator asks the provider's tokenizer endpoint for an exact count
// and falls back to the heuristic when the endpoint is unavailable.
type RemoteEstimator struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	fallback   HeuristicEstimator
	logger     *slog.Logger
}

// NewRemoteEstimator creates a remote estimator for the given endpoint
func NewRemoteEstimator(baseURL, model, apiKey string, logger *slog.Logger) *RemoteEstimator {
	return &RemoteEstimator{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		model:      model,
		apiKey:     apiKey,
		logger:     logger,
	}
}

type estimateRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
}

type estimateResponse struct {
	TokenCount int `json:"token_count"`
	Data       struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"data"`
}

// Estimate implements Estimator
func (e *RemoteEstimator) Estimate(ctx context.Context, messages []models.Message) (int, error) {
	count, err := e.remoteCount(ctx, messages)
	if err != nil {
		e.logger.Warn("Remote token estimate failed, using heuristic", "error", err)
		return e.fallback.Estimate(ctx, messages)
	}
	return count, nil
}

func (e *RemoteEstimator) remoteCount(ctx context.Context, messages []models.Message) (int, error) {
	body, err := json.Marshal(estimateRequest{Model: e.model, Messages: messages})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal estimate request: %w", err)
	}

	endpoint := e.baseURL
	if endpoint[len(endpoint)-1] != '/' {
		endpoint += "/"
	}
	endpoint += "tokenizers/estimate-token-count"

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create estimate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("estimate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("estimate request failed with status %d", resp.StatusCode)
	}

	var er estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return 0, fmt.Errorf("failed to decode estimate response: %w", err)
	}

	if er.Data.TotalTokens > 0 {
		return er.Data.TotalTokens, nil
	}
	if er.TokenCount > 0 {
		return er.TokenCount, nil
	}
	return 0, fmt.Errorf("estimate response contained no token count")
}
