package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors surfaced across the queue boundary.
var (
	// ErrUnavailable means the provider health probe reports down.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout means the cumulative wall-clock exceeded the caller
	// deadline.
	ErrTimeout = errors.New("request timed out")
)

// FailureClass buckets provider errors for retry policy.
type FailureClass int

// Failure classes.
const (
	// FailureTransient covers network errors, 5xx, and rate limits —
	// retryable.
	FailureTransient FailureClass = iota
	// FailurePermanent covers auth and other 4xx — not retryable.
	FailurePermanent
	// FailureUnavailable covers a failed health probe.
	FailureUnavailable
)

// ProviderError wraps a vendor error with its failure class.
type ProviderError struct {
	Class FailureClass
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// String names the failure class.
func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailurePermanent:
		return "permanent"
	case FailureUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Transient wraps err as a retryable provider error.
func Transient(err error) error {
	return &ProviderError{Class: FailureTransient, Err: err}
}

// Permanent wraps err as a non-retryable provider error.
func Permanent(err error) error {
	return &ProviderError{Class: FailurePermanent, Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class == FailureTransient
	}
	// Unclassified errors default to transient so one odd failure never
	// kills a story beat that a retry would have saved.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrUnavailable)
}

// Classify buckets a raw vendor error. HTTP status text and net errors
// cover the common cases; anything unrecognized counts as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted"):
		return Transient(err)
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "api key"):
		return Permanent(err)
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "404"):
		return Permanent(err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "internal"):
		return Transient(err)
	default:
		return Transient(err)
	}
}
