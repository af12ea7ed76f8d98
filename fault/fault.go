// Package fault defines the error taxonomy shared by the publishing
// pipeline, the platform client, and the generation providers. Errors carry a
// kind string used for classification and matching; the kind determines
// whether a failure is recoverable (provider fallback, refresh-and-retry) or
// fatal for the operation that produced it.
package fault

import (
	"errors"
	"fmt"
)

// Kind constants for classification and matching.
const (
	// KindUpstreamRejected indicates a collaborator reported a client-side
	// or validation error. Never retried automatically.
	KindUpstreamRejected = "upstream-rejected"

	// KindUpstreamUnavailable indicates a rate limit, exhausted quota, or a
	// transient availability problem. Triggers provider fallback.
	KindUpstreamUnavailable = "upstream-unavailable"

	// KindCredentialExpired indicates the platform rejected the access
	// token. Triggers exactly one refresh-and-retry cycle.
	KindCredentialExpired = "credential-expired"

	// KindCredentialRefreshFailed indicates the refresh exchange itself
	// failed, or that a retried request was rejected again after a
	// successful refresh. Fatal for the call.
	KindCredentialRefreshFailed = "credential-refresh-failed"

	// KindProtocolTimeout indicates media processing exceeded its
	// wall-clock ceiling. Distinct from KindUpstreamRejected so operators
	// can tell "platform said no" from "platform never finished".
	KindProtocolTimeout = "protocol-timeout"

	// KindPreconditionFailed indicates a replay guard refused to proceed,
	// e.g. the run was already posted or has no media artifacts.
	KindPreconditionFailed = "precondition-failed"

	// KindNotFound indicates a missing run record or storage key.
	KindNotFound = "not-found"
)

// Error is a structured error with a kind used for classification. It
// supports Go's error wrapping patterns with Unwrap().
type Error struct {
	Kind    string `json:"kind"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New creates an Error with the given kind and a formatted cause.
func New(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Cause: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given kind wrapping err. The cause is taken
// from the wrapped error's message.
func Wrap(kind string, err error) *Error {
	return &Error{Kind: kind, Cause: err.Error(), Wrapped: err}
}

// KindOf returns the kind of err, or the empty string if err carries no
// classification.
func KindOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind string) bool {
	return KindOf(err) == kind
}
