package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/pkg/models"
)

const (
	// DefaultHTTPTimeout is the fallback timeout for HTTP requests
	DefaultHTTPTimeout = 300 * time.Second
	// DefaultMaxRetries is the default number of attempts per call
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff (5s, 10s, ...)
	DefaultBaseRetryDelay = 5 * time.Second
)

// Client handles HTTP requests to OpenAI-compatible API endpoints
type Client struct {
	httpClient      *http.Client
	rateLimiterPool *RateLimiterPool
	logger          *slog.Logger
	metrics         *metrics.Collector
	maxRetries      int
	baseRetryDelay  time.Duration
	retries         atomic.Int64
	streamObs       StreamObserver
}

// NewClient creates a new API client
func NewClient(logger *slog.Logger, collector *metrics.Collector) *Client {
	return &Client{
		httpClient:      &http.Client{},
		rateLimiterPool: NewRateLimiterPool(),
		logger:          logger,
		metrics:         collector,
		maxRetries:      DefaultMaxRetries,
		baseRetryDelay:  DefaultBaseRetryDelay,
	}
}

// ChatCompletion sends a non-streaming chat completion request. Used for
// single-shot calls like compression summaries where tool calls and
// incremental output are not needed.
func (c *Client) ChatCompletion(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []models.Message,
	maxTokens int,
	temperature float64,
) (*ChatCompletionResponse, error) {
	modelID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)
	if err := c.rateLimiterPool.Wait(ctx, modelID, modelCfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    messages,
		Temperature: temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   maxTokens,
	}

	var resp *ChatCompletionResponse
	err := c.withRetries(ctx, modelCfg, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.doRequest(callCtx, modelCfg.BaseURL, apiKey, req)
		return callErr
	})
	return resp, err
}

// SetStreamObserver registers a sink for incremental streaming deltas.
// Must be called before the first streaming request.
func (c *Client) SetStreamObserver(obs StreamObserver) {
	c.streamObs = obs
}

// RetriesTotal returns the number of retried attempts over the client's lifetime
func (c *Client) RetriesTotal() int64 {
	return c.retries.Load()
}

// withRetries runs fn with the shared retry policy: up to maxRetries
// attempts, backing off 5s then 10s (doubling) between them. Transport
// failures and retryable HTTP statuses are retried; everything else
// propagates immediately.
func (c *Client) withRetries(ctx context.Context, modelCfg config.ModelConfig, fn func(context.Context) error) error {
	maxAttempts := modelCfg.MaxRetries
	if maxAttempts == 0 {
		maxAttempts = c.maxRetries
	}

	timeout := time.Duration(modelCfg.HTTPTimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay

			c.logger.Warn("Retrying API request",
				"attempt", attempt+1,
				"max_attempts", maxAttempts,
				"backoff", backoff,
				"model", modelCfg.ModelName,
				"error", lastErr)
			c.retries.Add(1)
			if c.metrics != nil {
				c.metrics.RecordRetry(modelCfg.ModelName)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := fn(callCtx)
		cancel()

		if c.metrics != nil {
			c.metrics.RecordModelCall(modelCfg.ModelName, time.Since(start), err == nil)
		}
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doRequest(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpointURL(baseURL, "chat/completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		c.logger.Warn("API request without key", "endpoint", httpReq.URL.String())
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Type:      "network",
			Retryable: isNetworkError(err) || ctx.Err() == context.DeadlineExceeded,
		}
	}
	defer func() {
		if err := httpResp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &APIError{
			Message:   fmt.Sprintf("failed to read response: %v", err),
			Type:      "network",
			Retryable: true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, statusError(httpResp.StatusCode, respBody)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned in response")
	}

	return &resp, nil
}

// statusError builds an APIError from a non-200 response body
func statusError(statusCode int, body []byte) *APIError {
	retryable := isStatusCodeRetryable(statusCode)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{
			Message:    errResp.Error.Message,
			StatusCode: statusCode,
			Type:       errResp.Error.Type,
			Code:       errResp.Error.Code,
			Retryable:  retryable,
		}
	}

	return &APIError{
		Message:    fmt.Sprintf("API request failed with status %d: %s", statusCode, string(body)),
		StatusCode: statusCode,
		Retryable:  retryable,
	}
}

func endpointURL(baseURL, path string) string {
	if baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	return baseURL + path
}
