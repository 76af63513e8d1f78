// Package apperr defines the typed error kinds used across the service
// (validation, transient, permanent, fatal), mirroring the 4xx/5xx
// branching beszel's agent_connect.go does ad-hoc per handler, but as a
// single reusable error type so every HTTP surface and job runner maps
// errors to outcomes the same way.
package apperr

import "errors"

// Kind classifies an error for the purpose of HTTP status mapping, job
// outcome, and log level.
type Kind int

const (
	// Validation errors are the caller's fault: bad auth, malformed body,
	// unknown building. Mapped to 4xx, not logged at error level.
	Validation Kind = iota
	// Transient errors may succeed on retry: a busy database, a network
	// blip talking to the messenger. Mapped to 503 / retried.
	Transient
	// Permanent errors will never succeed for this subscriber/sensor: the
	// user blocked the bot, the chat no longer exists.
	Permanent
	// Fatal errors abort the process at startup.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can branch on it
// without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validationf is a convenience constructor for validation errors.
func Validationf(msg string, err error) *Error { return Wrap(Validation, msg, err) }

// Transientf is a convenience constructor for transient errors.
func Transientf(msg string, err error) *Error { return Wrap(Transient, msg, err) }

// Permanentf is a convenience constructor for permanent errors.
func Permanentf(msg string, err error) *Error { return Wrap(Permanent, msg, err) }

// Fatalf is a convenience constructor for fatal errors.
func Fatalf(msg string, err error) *Error { return Wrap(Fatal, msg, err) }

// KindOf extracts the Kind from err, defaulting to Transient for unknown
// errors (conservative: retry rather than give up).
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return Transient
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
