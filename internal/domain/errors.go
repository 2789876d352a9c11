package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument      ErrorCode = "invalid_argument"
	CodeNotFound             ErrorCode = "not_found"
	CodeUnauthenticated      ErrorCode = "unauthenticated"
	CodeFailedPrecondition   ErrorCode = "failed_precondition"
	CodeConfiguration        ErrorCode = "configuration"
	CodeProviderAuthRequired ErrorCode = "provider_auth_required"
	CodeResourceExhausted    ErrorCode = "resource_exhausted"
	CodeInvalidOutput        ErrorCode = "invalid_output"
	CodeProvider             ErrorCode = "provider_error"
	CodeInternal             ErrorCode = "internal"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func InvalidArgument(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func Unauthenticated(message string) *AppError {
	return &AppError{Code: CodeUnauthenticated, Message: message}
}

func FailedPrecondition(message string) *AppError {
	return &AppError{Code: CodeFailedPrecondition, Message: message}
}

// Configuration reports a missing credential or model mapping. Never retried.
func Configuration(message string) *AppError {
	return &AppError{Code: CodeConfiguration, Message: message}
}

func ResourceExhausted(message string) *AppError {
	return &AppError{Code: CodeResourceExhausted, Message: message}
}

func InvalidOutput(message string, cause error) *AppError {
	return &AppError{Code: CodeInvalidOutput, Message: message, Cause: cause}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

func AsAppError(err error) (*AppError, bool) {
	var typed *AppError
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// HasCode reports whether err, or anything it wraps, is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	var typed *AppError
	return errors.As(err, &typed) && typed.Code == code
}
