package sources

//go:generate mockgen -source=source.go -destination=mocks/mocks.go -package=mocks Source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// RawAction is one record as published by a source, before validation.
type RawAction struct {
	ExternalID   string    `json:"id"`
	Kind         string    `json:"kind"`
	PoliticianID string    `json:"politician_id,omitempty"`
	Position     string    `json:"position,omitempty"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Source is an external feed of political actions.
type Source interface {
	// ID is the stable source identifier used in action keys.
	ID() string
	// FetchSince lazily yields actions that occurred at or after since. A
	// non-nil error ends the sequence.
	FetchSince(ctx context.Context, since time.Time) iter.Seq2[RawAction, error]
}

// ErrorCategory is the normalized source failure taxonomy.
type ErrorCategory string

const (
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorBadData        ErrorCategory = "bad_data"
	ErrorAuthentication ErrorCategory = "authentication"
	ErrorOutage         ErrorCategory = "source_outage"
	ErrorNotFound       ErrorCategory = "not_found"
	ErrorRateLimited    ErrorCategory = "rate_limited"
	ErrorInternal       ErrorCategory = "internal"
)

// SourceError wraps a source failure with its category.
type SourceError struct {
	Category   ErrorCategory
	SourceID   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *SourceError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.SourceID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.SourceID, e.Category, e.Message)
}

func (e *SourceError) Unwrap() error {
	return e.Underlying
}

// NewSourceError builds a categorized error. Timeouts, outages and rate
// limiting are transient; everything else is terminal.
func NewSourceError(category ErrorCategory, sourceID, message string, underlying error) *SourceError {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited

	return &SourceError{
		Category:   category,
		SourceID:   sourceID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether err is a transient source failure. Errors
// that are not SourceErrors, cancellation included, count as transient so
// the unread window is fetched again.
func IsRetryable(err error) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorInternal
}
