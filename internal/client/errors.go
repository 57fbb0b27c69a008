package client

import (
	"fmt"
	"strings"
)

// HTTPError is an API error with its HTTP status code attached, so retry
// logic can distinguish transient failures from permanent ones.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// isRetryable reports whether a failed attempt should be retried: 5xx and
// rate limiting by status code, plus common transient network faults.
func isRetryable(err error, statusCode int) bool {
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	}

	if err != nil {
		s := err.Error()
		if strings.Contains(s, "timeout") ||
			strings.Contains(s, "connection refused") ||
			strings.Contains(s, "connection reset") ||
			strings.Contains(s, "no such host") ||
			strings.Contains(s, "EOF") {
			return true
		}
	}
	return false
}
