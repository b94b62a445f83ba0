// Package bridgeerr defines the typed error kinds the core pipeline
// raises. The supervisor matches on these kinds to decide whether a
// failure is reconnect-eligible; nothing else in the tree should
// return a bare error across a component boundary.
package bridgeerr

import "fmt"

// Kind classifies a core error for supervisor dispatch.
type Kind int

const (
	// KindConfig signals invalid or missing configuration. Fatal, never
	// retried.
	KindConfig Kind = iota
	// KindDeviceNotFound signals no input device matched the configured
	// criteria, or criteria were ambiguous. Reconnect-eligible.
	KindDeviceNotFound
	// KindDeviceAccess signals a permission, open, read, or grab failure
	// on an otherwise-identified device. Reconnect-eligible.
	KindDeviceAccess
	// KindSerialConnection signals a serial open/write/modem-signal/PTY
	// failure. Reconnect-eligible.
	KindSerialConnection
	// KindPayloadEncode signals an encoding failure under the strict
	// error policy. Never propagates past the event loop.
	KindPayloadEncode
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindDeviceNotFound:
		return "device-not-found"
	case KindDeviceAccess:
		return "device-access"
	case KindSerialConnection:
		return "serial-connection"
	case KindPayloadEncode:
		return "payload-encode"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a message and an optional underlying cause,
// mirroring the (msg, err) shape used throughout the serial package
// this repo's Port type is grounded on.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

// New builds an Error of the given kind with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// Wrap builds an Error of the given kind around an underlying cause.
// Returns a nil *Error if err is nil. Stored in or returned as an
// error interface value, that nil pointer is a non-nil error; every
// call site in this tree calls Wrap only after checking err != nil.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: msg, err: err}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if be, ok := err.(*Error); ok {
			e = be
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// Reconnectable reports whether the supervisor may retry after this
// error kind, per spec §7's propagation policy.
func Reconnectable(err error) bool {
	return Is(err, KindDeviceNotFound) || Is(err, KindDeviceAccess) || Is(err, KindSerialConnection)
}
