// Package errors provides the flat error taxonomy used across corral.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies a CorralError for front-ends that need to react
// differently (exit code, HTTP status, retry policy) without parsing
// messages.
type Code string

const (
	CodeUserInput       Code = "USER_INPUT"
	CodeConfig          Code = "CONFIG"
	CodeProvider        Code = "PROVIDER"
	CodeProcess         Code = "PROCESS"
	CodeHostOffline     Code = "HOST_OFFLINE"
	CodeState           Code = "STATE"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAuth            Code = "AUTH"
	CodeInternal        Code = "INTERNAL"
)

// CorralError is the single error carrier used by every layer above the
// standard library. It wraps an underlying cause when one exists.
type CorralError struct {
	Code    Code
	Message string
	Err     error

	// CorrelationID links an Internal error back to a log span.
	CorrelationID string
}

func (e *CorralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CorralError) Unwrap() error { return e.Err }

func newErr(code Code, msg string, err error) *CorralError {
	return &CorralError{Code: code, Message: msg, Err: err}
}

func UserInput(format string, args ...any) *CorralError {
	return newErr(CodeUserInput, fmt.Sprintf(format, args...), nil)
}

func Config(format string, args ...any) *CorralError {
	return newErr(CodeConfig, fmt.Sprintf(format, args...), nil)
}

func Provider(cause error, format string, args ...any) *CorralError {
	return newErr(CodeProvider, fmt.Sprintf(format, args...), cause)
}

func Process(cause error, command string, returncode int) *CorralError {
	return newErr(CodeProcess, fmt.Sprintf("command %q exited %d", command, returncode), cause)
}

func HostOffline(hostName string) *CorralError {
	return newErr(CodeHostOffline, fmt.Sprintf("host %q is not online", hostName), nil)
}

func State(format string, args ...any) *CorralError {
	return newErr(CodeState, fmt.Sprintf(format, args...), nil)
}

func AlreadyExists(kind, name string) *CorralError {
	return newErr(CodeAlreadyExists, fmt.Sprintf("%s %q already exists", kind, name), nil)
}

func NotFound(kind, ref string) *CorralError {
	return newErr(CodeNotFound, fmt.Sprintf("%s %q not found", kind, ref), nil)
}

func Auth(format string, args ...any) *CorralError {
	return newErr(CodeAuth, fmt.Sprintf(format, args...), nil)
}

func Internal(correlationID string, cause error, format string, args ...any) *CorralError {
	e := newErr(CodeInternal, fmt.Sprintf(format, args...), cause)
	e.CorrelationID = correlationID
	return e
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ce *CorralError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or CodeInternal if err is not a
// CorralError.
func CodeOf(err error) Code {
	var ce *CorralError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}
