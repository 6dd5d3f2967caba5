package embedding

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error is an embedding failure. Retryable marks transient conditions
// (network faults, HTTP 5xx, rate limits) that the client retries with
// backoff before surfacing the error.
type Error struct {
	Message   string
	Status    int // HTTP status when the remote responded, else 0
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("embedding: %s (status %d)", e.Message, e.Status)
	}
	return "embedding: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// retryableStatus reports whether an HTTP status indicates a transient failure.
func retryableStatus(status int) bool {
	return status >= 500 || status == 429
}

// transientNetworkPhrases are error-text markers for transient network faults.
var transientNetworkPhrases = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"network error",
	"socket hang up",
	"rate limit",
}

// retryableErr classifies a transport-level error as transient or not.
func retryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range transientNetworkPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
