package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testModelConfig(baseURL string) config.ModelConfig {
	return config.ModelConfig{
		BaseURL:            baseURL,
		ModelName:          "test-model",
		Temperature:        0.7,
		TopP:               1.0,
		MaxOutputTokens:    100,
		RateLimitPerMinute: 6000,
	}
}

const successBody = `{
	"id": "test-123",
	"object": "chat.completion",
	"created": 1234567890,
	"model": "test-model",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Test response"},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestChatCompletion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Authorization header 'Bearer test-key', got '%s'", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(successBody))
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)

	resp, err := client.ChatCompletion(
		context.Background(),
		testModelConfig(server.URL),
		"test-key",
		[]models.Message{{Role: "user", Content: "Test message"}},
		100,
		0.7,
	)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("Expected 1 choice, got %d", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Test response" {
		t.Errorf("Expected content 'Test response', got '%s'", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletion_RetriesOn500(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(successBody))
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)
	client.baseRetryDelay = time.Millisecond // keep the test fast

	resp, err := client.ChatCompletion(
		context.Background(),
		testModelConfig(server.URL),
		"test-key",
		[]models.Message{{Role: "user", Content: "test"}},
		100,
		0.7,
	)
	if err != nil {
		t.Fatalf("Expected eventual success, got: %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", callCount)
	}
	if resp.Choices[0].Message.Content != "Test response" {
		t.Errorf("Unexpected content '%s'", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletion_NoRetryOn400(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad request", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)
	client.baseRetryDelay = time.Millisecond

	_, err := client.ChatCompletion(
		context.Background(),
		testModelConfig(server.URL),
		"test-key",
		[]models.Message{{Role: "user", Content: "test"}},
		100,
		0.7,
	)
	if err == nil {
		t.Fatal("Expected an error for status 400")
	}
	if callCount != 1 {
		t.Errorf("Expected exactly 1 attempt for a non-retryable status, got %d", callCount)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", apiErr.StatusCode)
	}
	if apiErr.Message != "bad request" {
		t.Errorf("Expected provider error message preserved, got '%s'", apiErr.Message)
	}
}

func TestChatCompletion_RetriesExhausted(t *testing.T) {
	callCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testLogger(), nil)
	client.baseRetryDelay = time.Millisecond

	_, err := client.ChatCompletion(
		context.Background(),
		testModelConfig(server.URL),
		"test-key",
		[]models.Message{{Role: "user", Content: "test"}},
		100,
		0.7,
	)
	if err == nil {
		t.Fatal("Expected an error after exhausting retries")
	}
	if callCount != DefaultMaxRetries {
		t.Errorf("Expected %d attempts, got %d", DefaultMaxRetries, callCount)
	}
}

func TestIsStatusCodeRetryable(t *testing.T) {
	retryable := []int{429, 500, 502, 503, 504}
	for _, code := range retryable {
		if !isStatusCodeRetryable(code) {
			t.Errorf("Expected status %d to be retryable", code)
		}
	}

	notRetryable := []int{400, 401, 403, 404, 422}
	for _, code := range notRetryable {
		if isStatusCodeRetryable(code) {
			t.Errorf("Expected status %d to not be retryable", code)
		}
	}
}

func TestIsNetworkError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("peer closed connection without sending complete message body"), true},
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("invalid character 'x' in JSON"), false},
		{nil, false},
	}

	for _, tc := range cases {
		if got := isNetworkError(tc.err); got != tc.want {
			t.Errorf("isNetworkError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
