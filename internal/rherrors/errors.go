// Package rherrors defines the typed error kinds that a Client's driver
// loop uses to classify a failure without string matching, per the error
// taxonomy of the request-forwarding core.
package rherrors

import "errors"

// Kind identifies which part of the request lifecycle produced an error.
type Kind int

const (
	KindProtocol Kind = iota
	KindClientSocket
	KindWorkerSocket
	KindSessionCheckout
	KindTimeout
	KindSpillPipe
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindClientSocket:
		return "client socket"
	case KindWorkerSocket:
		return "worker socket"
	case KindSessionCheckout:
		return "session checkout"
	case KindTimeout:
		return "timeout"
	case KindSpillPipe:
		return "spill pipe"
	case KindInvariant:
		return "invariant violation"
	default:
		return "unknown"
	}
}

// Error wraps a message with the Kind that produced it, plus whether the
// connection should be closed quietly (no warning-level log, no response
// body attempted) as opposed to loudly.
type Error struct {
	Kind  Kind
	Quiet bool
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Quiet(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Quiet: true, Msg: msg}
}

// Is reports whether err (or something it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
