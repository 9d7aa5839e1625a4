// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for wsreactor.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrServerClosed    = errors.New("server is closed")
	ErrClientClosed    = errors.New("client connection is closed")
	ErrAlreadyRunning  = errors.New("server already running")
	ErrNotSupported    = errors.New("operation not supported on this platform")
	ErrWouldBlock      = errors.New("operation would block")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeSetup
	ErrCodeProtocol
	ErrCodeNetwork
	ErrCodeCallback
	ErrCodeInternal
)

// String returns a short lowercase name for the code, suitable as a log field.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeSetup:
		return "setup"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeNetwork:
		return "network"
	case ErrCodeCallback:
		return "callback"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError creates a structured error around cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	e := NewError(code, message)
	e.Err = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf returns the ErrorCode carried by err, or ErrCodeInternal when err
// holds no *Error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
