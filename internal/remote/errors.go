package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StatusError is an HTTP-status-shaped failure from the remote service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Message)
}

// Retryable reports whether the status indicates a transient condition:
// rate limiting (429) or a server-side fault (5xx). Other 4xx statuses are
// fatal and must not be retried.
func (e *StatusError) Retryable() bool {
	return e.Code == 429 || e.Code >= 500
}

// IsRetryable classifies err per the error taxonomy: rate-limited and 5xx
// statuses, network faults, and timeouts are transient; everything else is
// treated as fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
