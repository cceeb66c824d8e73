// Package errors provides unified error handling with a small set of error codes
// shared by every stage of the capture pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an AppError.
type Code string

const (
	CodeUnknown        Code = "UNKNOWN"
	CodeInternal       Code = "INTERNAL"
	CodeConfigMissing  Code = "CONFIG_MISSING"
	CodeConfigInvalid  Code = "CONFIG_INVALID"
	CodeCaptureFailed  Code = "CAPTURE_FAILED"
	CodeEncodeFailed   Code = "ENCODE_FAILED"
	CodeArchiveFailed  Code = "ARCHIVE_FAILED"
	CodeDeliveryFailed Code = "DELIVERY_FAILED"
)

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode reports whether the first AppError in err's chain carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsFatal reports whether the error must terminate the process.
// Only configuration errors are fatal; every other failure is contained
// inside a single pipeline iteration.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeConfigMissing, CodeConfigInvalid:
		return true
	default:
		return false
	}
}
