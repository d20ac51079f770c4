package dbclient

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure code. Callers discriminate
// failure kinds by code, never by message text.
type Code string

const (
	// CodeInterrupted marks an operation cancelled while suspended.
	CodeInterrupted Code = "Interrupted"
	// CodeSessionExpired marks an operation routed through an ended
	// session. Distinct from CodeTransport so that callers can tell the
	// difference from a generic network failure.
	CodeSessionExpired Code = "SessionExpired"
	// CodeInvalidState marks an operation on an object whose lifecycle
	// forbids it, like reading a closed cursor.
	CodeInvalidState Code = "InvalidState"
	// CodeUnimplemented marks an operation not supported for the kind of
	// object it was invoked on.
	CodeUnimplemented Code = "Unimplemented"
	// CodeTransport wraps opaque failures from the underlying transport.
	CodeTransport Code = "Transport"
	// CodeNamespaceNotFound marks access to a missing database or
	// collection where existence is required.
	CodeNamespaceNotFound Code = "NamespaceNotFound"
	// CodeTransaction marks transaction lifecycle violations.
	CodeTransaction Code = "Transaction"
)

// Error is a typed database failure.
type Error struct {
	Code    Code
	Message string
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]", e.Message, e.Code)
}

// HasCode reports whether err is or wraps an Error with the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// CodeOf returns the code of err, or CodeTransport for untyped errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeTransport
}
