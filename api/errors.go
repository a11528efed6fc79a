// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy of the poll reactor: descriptor shutdown, syscall failures,
// usage errors and wakeup initialization failures.

package api

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is.
var (
	ErrDescriptorShutdown = errors.New("fd shutdown")
	ErrSyscallFailure     = errors.New("syscall failure")
	ErrUsage              = errors.New("usage error")
	ErrNoWakeup           = errors.New("no workable wakeup primitive")
	ErrNotSupported       = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeDescriptorShutdown
	ErrCodeSyscallFailure
	ErrCodeUsage
	ErrCodeNoWakeup
	ErrCodeNotSupported
)

func (c ErrorCode) sentinel() error {
	switch c {
	case ErrCodeDescriptorShutdown:
		return ErrDescriptorShutdown
	case ErrCodeSyscallFailure:
		return ErrSyscallFailure
	case ErrCodeUsage:
		return ErrUsage
	case ErrCodeNoWakeup:
		return ErrNoWakeup
	case ErrCodeNotSupported:
		return ErrNotSupported
	}
	return nil
}

// Error represents a structured error with code, context and an optional
// set of child errors (composite errors such as "Kick Failure").
type Error struct {
	Code     ErrorCode
	Message  string
	Context  map[string]any
	Cause    error
	Children []error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if len(e.Children) > 0 {
		b.WriteString(" [")
		for i, c := range e.Children {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Error())
		}
		b.WriteString("]")
	}
	if len(e.Context) > 0 {
		fmt.Fprintf(&b, " (context: %+v)", e.Context)
	}
	return b.String()
}

// Is reports whether target is the sentinel matching this error's code.
func (e *Error) Is(target error) bool {
	s := e.Code.sentinel()
	return s != nil && s == target
}

// Unwrap exposes the cause and the children to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Children)+1)
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return append(out, e.Children...)
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying reason.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// NewShutdownError builds the error delivered to waiters of a shut down
// descriptor. reason is the error passed to Shutdown and may be nil.
func NewShutdownError(reason error) *Error {
	return NewError(ErrCodeDescriptorShutdown, "FD shutdown").WithCause(reason)
}

// NewUsageError builds the value panicked with on caller bugs.
func NewUsageError(format string, args ...any) *Error {
	return NewError(ErrCodeUsage, fmt.Sprintf(format, args...))
}

// OSError wraps a failed system call the way the poll loop reports it.
func OSError(err error, call string) *Error {
	return NewError(ErrCodeSyscallFailure, call).WithCause(err)
}

// AppendChild adds err to the composite pointed to by composite, creating
// the composite with message on first use. Nil errors are ignored.
func AppendChild(composite **Error, message string, err error) {
	if err == nil {
		return
	}
	if *composite == nil {
		*composite = NewError(ErrCodeSyscallFailure, message)
	}
	(*composite).Children = append((*composite).Children, err)
}

// AsError converts a possibly-nil *Error into an error without the
// typed-nil trap.
func AsError(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}
