// Package bridge holds the shared types that cross component boundaries:
// the error taxonomy, the unified backend response, and health snapshots.
package bridge

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for routing and reporting decisions.
type ErrorKind string

const (
	// KindInvalidInput indicates caller-side validation failed
	// (unknown role, rejected fuzzy edits, malformed tool arguments).
	KindInvalidInput ErrorKind = "invalid_input"

	// KindMisconfigured indicates a missing credential or an endpoint whose
	// model listing does not include the requested model. Never trips a
	// breaker: no upstream was contacted.
	KindMisconfigured ErrorKind = "misconfigured"

	// KindRateLimited indicates the proactive guard denied the request or
	// the upstream returned 429.
	KindRateLimited ErrorKind = "rate_limited"

	// KindBackendUnavailable indicates the adapter breaker is open; no
	// upstream attempt was made.
	KindBackendUnavailable ErrorKind = "backend_unavailable"

	// KindUpstreamTimeout indicates the request deadline was exceeded.
	KindUpstreamTimeout ErrorKind = "upstream_timeout"

	// KindUpstreamError indicates a non-2xx status or transport failure.
	KindUpstreamError ErrorKind = "upstream_error"

	// KindProtocolMismatch indicates a response was received but did not
	// match the expected schema.
	KindProtocolMismatch ErrorKind = "protocol_mismatch"

	// KindAllBackendsFailed indicates the fallback chain was exhausted.
	KindAllBackendsFailed ErrorKind = "all_backends_failed"

	// KindQualityGateFailed indicates the orchestrator reached its maximum
	// quality iterations without a pass verdict.
	KindQualityGateFailed ErrorKind = "quality_gate_failed"
)

// Error is the typed failure surfaced by all public bridge operations.
type Error struct {
	Kind    ErrorKind
	Backend string // backend name, when attributable
	Status  int    // HTTP status from the provider, when applicable
	Msg     string
	Err     error // wrapped cause
}

func (e *Error) Error() string {
	switch {
	case e.Backend != "" && e.Msg != "":
		return fmt.Sprintf("%s: backend %q: %s", e.Kind, e.Backend, e.Msg)
	case e.Backend != "":
		return fmt.Sprintf("%s: backend %q: %v", e.Kind, e.Backend, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with a classification and backend attribution.
func WrapError(kind ErrorKind, backend string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Err: err}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed.
// Unclassified errors report KindUpstreamError.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUpstreamError
}

// IsKind reports whether err (or any wrapped cause) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) && be.Kind == kind {
		return true
	}
	return false
}

// AttemptError records one failed backend attempt during a fallback walk.
type AttemptError struct {
	Backend string    `json:"backend"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// ChainError aggregates a fully exhausted fallback chain.
// It always carries KindAllBackendsFailed plus the per-attempt record.
type ChainError struct {
	Attempts []AttemptError
	Last     error // last underlying failure
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s: %d backends attempted, last error: %v",
		KindAllBackendsFailed, len(e.Attempts), e.Last)
}

func (e *ChainError) Unwrap() error {
	return e.Last
}

// AttemptedNames lists the backends tried, in attempt order.
func (e *ChainError) AttemptedNames() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Backend
	}
	return names
}
