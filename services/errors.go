package services

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by the read path for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ValidationError rejects a submission before any side effect. No job is
// created and no rate-limit count is consumed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError rejects a submission because the client's window is full.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %s", formatDuration(e.RetryAfter))
}

func formatDuration(d time.Duration) string {
	seconds := int(d / time.Second)
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes", seconds/60)
	default:
		return fmt.Sprintf("%d hours", seconds/3600)
	}
}
