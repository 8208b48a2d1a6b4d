// Package memerr defines the error taxonomy for the memory subsystem and a
// bounded retry helper for transient provider failures.
package memerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	// KindConnection covers unreachable servers, bad URIs, and auth failures.
	// Surface to the caller and halt the affected operation.
	KindConnection Kind = iota
	// KindCapability covers features the deployment does not support.
	// Never fatal; callers degrade and memoise the decision.
	KindCapability
	// KindTransient covers retryable provider failures (timeouts, 5xx).
	KindTransient
	// KindIntegrity covers invalid input; reject synchronously, mutate nothing.
	KindIntegrity
	// KindProgrammer covers contract violations (use after close, missing probe).
	KindProgrammer
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindCapability:
		return "capability"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindProgrammer:
		return "programmer"
	default:
		return "unknown"
	}
}

// Error is a classified error with an optional remediation hint shown to
// users. The hint never contains credentials.
type Error struct {
	Kind        Kind
	Op          string
	Remediation string
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithRemediation attaches a user-facing remediation hint.
func (e *Error) WithRemediation(hint string) *Error {
	e.Remediation = hint
	return e
}

// KindOf returns the kind of err, or KindProgrammer if unclassified.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindProgrammer
}

// IsCapability reports whether err is a capability-gap error.
func IsCapability(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindCapability
}

// Remediation extracts the remediation hint from err, if any.
func Remediation(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Remediation
	}
	return ""
}

// ErrTryNext signals the search dispatcher that the current strategy cannot
// serve the query and the next tier should be attempted. Strategies return
// it wrapped; the dispatcher absorbs it silently.
var ErrTryNext = errors.New("strategy cannot serve query, try next")

// TryNext wraps err so the dispatcher falls through to the next strategy.
func TryNext(strategy string, err error) error {
	return fmt.Errorf("%s: %w: %w", strategy, ErrTryNext, err)
}
