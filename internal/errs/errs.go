// Package errs defines the error kinds that cross grip's internal layers.
//
// Every error produced by config loading, the boundary adapter and the queue is an
// *Error carrying one Kind. Kinds are compared with errors.Is against the exported
// sentinels:
//
//	if errors.Is(err, errs.ErrInvalidInput) {
//		...
//	}
//
// The boundary adapter is the only place that turns an *Error into the host's
// sentinel value.
package errs

import (
	"errors"
	"strings"
)

// Kind categorizes an error
type Kind string

const (
	KindInitialization Kind = "initialization" // fatal, startup aborted
	KindInvalidInput   Kind = "invalid_input"  // rejected at the boundary
	KindTransport      Kind = "transport"      // request failed inside the worker
	KindShutdown       Kind = "shutdown"       // submitted during or after shutdown
)

// Sentinels usable as errors.Is targets.
var (
	ErrInitialization = &Error{Kind: KindInitialization}
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrTransport      = &Error{Kind: KindTransport}
	ErrShutdown       = &Error{Kind: KindShutdown}
)

// Error is the structured error type used throughout grip
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Cause: cause}
}

// Initialization reports a configuration or startup failure
func Initialization(op, detail string, cause error) *Error {
	return newError(KindInitialization, op, detail, cause)
}

// InvalidInput reports a host value that failed validation
func InvalidInput(op, detail string) *Error {
	return newError(KindInvalidInput, op, detail, nil)
}

// Transport wraps a network failure of a single request
func Transport(op string, cause error) *Error {
	return newError(KindTransport, op, "", cause)
}

// Shutdown reports work offered to a queue that is shutting down
func Shutdown(op string) *Error {
	return newError(KindShutdown, op, "queue is shutting down", nil)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
