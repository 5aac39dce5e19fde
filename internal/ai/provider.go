package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Completer turns a fully assembled prompt into an answer.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// StreamCompleter is implemented by completers that can emit partial output.
type StreamCompleter interface {
	Completer
	Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error)
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider response status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying (rate limit or server side).
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err wraps a retryable StatusError.
func IsTemporary(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Temporary()
}
