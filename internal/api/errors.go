package api

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError represents an error returned by the API or the transport
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// networkErrorMarkers are substrings of transport failures that indicate a
// transient connection problem worth retrying (mid-stream disconnects show
// up as these rather than HTTP status codes).
var networkErrorMarkers = []string{
	"peer closed",
	"connection",
	"timeout",
	"incomplete",
}

// isNetworkError classifies transport-level failures as retryable
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isStatusCodeRetryable reports whether an HTTP status is worth retrying
func isStatusCodeRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// isRetryable reports whether an error should be retried at all
func isRetryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	return false
}
