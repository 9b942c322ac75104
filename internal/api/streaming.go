package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/pkg/models"
)

// maxScanTokenSize allows for large single SSE lines (long content deltas)
const maxScanTokenSize = 1024 * 1024

// StreamObserver receives content and reasoning deltas as they arrive off
// the wire, before the assembler finalizes the message. Implementations
// must be fast; they run inside the stream read loop.
type StreamObserver interface {
	StreamFragment(contentDelta, reasoningDelta string)
}

// ChatCompletionStreaming sends a chat completion request with streaming
// enabled and assembles the deltas into one canonical response. Streaming is
// the primary call path: it exposes reasoning_content and tool-call deltas,
// and keeps long generations alive through gateways that time out idle
// connections.
func (c *Client) ChatCompletionStreaming(
	ctx context.Context,
	modelCfg config.ModelConfig,
	apiKey string,
	messages []models.Message,
	tools []Tool,
) (*ChatCompletionResponse, error) {
	modelID := fmt.Sprintf("%s:%s", modelCfg.BaseURL, modelCfg.ModelName)
	if err := c.rateLimiterPool.Wait(ctx, modelID, modelCfg.RateLimitPerMinute); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	req := ChatCompletionRequest{
		Model:       modelCfg.ModelName,
		Messages:    messages,
		Temperature: modelCfg.Temperature,
		TopP:        modelCfg.TopP,
		MaxTokens:   modelCfg.MaxOutputTokens,
		Tools:       tools,
		Stream:      true,
	}

	var resp *ChatCompletionResponse
	err := c.withRetries(ctx, modelCfg, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.doStreamingRequest(callCtx, modelCfg.BaseURL, apiKey, req)
		return callErr
	})
	return resp, err
}

func (c *Client) doStreamingRequest(
	ctx context.Context,
	baseURL string,
	apiKey string,
	req ChatCompletionRequest,
) (*ChatCompletionResponse, error) {
	buf := getBuffer()
	defer putBuffer(buf)

	if err := json.NewEncoder(buf).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpointURL(baseURL, "chat/completions"), bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Type:      "network",
			Retryable: isNetworkError(err) || ctx.Err() == context.DeadlineExceeded,
		}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		return nil, statusError(httpResp.StatusCode, bodyBytes)
	}

	assembler := NewAssembler()

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)
	for scanner.Scan() {
		line := scanner.Text()

		if len(strings.TrimSpace(line)) == 0 {
			continue
		}

		// SSE format: "data: {...}"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			break
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("Failed to parse stream chunk", "error", err, "data", data)
			continue
		}

		assembler.Consume(&chunk)

		if c.streamObs != nil && len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta
			if delta.Content != "" || delta.ReasoningContent != "" {
				c.streamObs.StreamFragment(delta.Content, delta.ReasoningContent)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		// A broken stream means the assembled message is incomplete and
		// must be discarded; the retry loop replays the whole call.
		return nil, &APIError{
			Message:   fmt.Sprintf("stream reading error: %v", err),
			Type:      "network",
			Retryable: true,
		}
	}

	resp := assembler.Response()

	msg := resp.Choices[0].Message
	if msg.ReasoningContent != "" {
		c.logger.Debug("Reasoning content detected",
			"model", resp.Model,
			"reasoning_length", len(msg.ReasoningContent),
			"content_length", len(msg.Content))
	}
	if len(msg.ToolCalls) > 0 {
		c.logger.Debug("Tool calls assembled",
			"model", resp.Model,
			"count", len(msg.ToolCalls))
	}

	return resp, nil
}
