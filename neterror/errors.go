// Package neterror provides the error kinds surfaced by the messaging layer.
package neterror

import (
	"errors"
	"fmt"

	"github.com/Meander-Cloud/go-netevent/message"
)

// Error is the messaging error type with structured metadata.
type Error struct {
	Code    Code           // Machine-readable error code
	Message string         // Human readable message, already carries log context
	ConnID  message.ConnID // Affected connection, InvalidConnID when not connection scoped
	Cause   error          // Wrapped underlying error
}

// Sentinels for errors.Is, matched by code.
var (
	ErrTransport             = &Error{Code: CodeTransport}
	ErrFrame                 = &Error{Code: CodeFrame}
	ErrDeserialization       = &Error{Code: CodeDeserialization}
	ErrUnregisteredType      = &Error{Code: CodeUnregisteredType}
	ErrSerialization         = &Error{Code: CodeSerialization}
	ErrConnectionNotFound    = &Error{Code: CodeConnectionNotFound}
	ErrNotConnected          = &Error{Code: CodeNotConnected}
	ErrQueueFull             = &Error{Code: CodeQueueFull}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrShutdown              = &Error{Code: CodeShutdown}
	ErrRegistrationClosed    = &Error{Code: CodeRegistrationClosed}
	ErrDuplicateRegistration = &Error{Code: CodeDuplicateRegistration}
	ErrTagCollision          = &Error{Code: CodeTagCollision}
	ErrInvalidConfig         = &Error{Code: CodeInvalidConfig}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ", err=" + e.Cause.Error()
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates an error that wraps an underlying cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// WithConn returns a copy of e scoped to a connection.
func (e *Error) WithConn(id message.ConnID) *Error {
	scoped := *e
	scoped.ConnID = id
	return &scoped
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
