package services

import (
	"errors"
	"fmt"
)

// ErrorCode classifies engine failures for callers.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "VALIDATION_ERROR"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInvalidState        ErrorCode = "INVALID_STATE"
	CodeAlreadyApproved     ErrorCode = "ALREADY_APPROVED"
	CodeInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	CodeInsufficientFloat   ErrorCode = "INSUFFICIENT_FLOAT"
	CodeStorageFailure      ErrorCode = "STORAGE_FAILURE"
)

// DomainError is the only error type the engine returns.
type DomainError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code, so errors.Is(err, ErrNotFound) holds for every
// not-found failure regardless of message.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrValidation          = &DomainError{Code: CodeValidation, Message: "invalid input"}
	ErrNotFound            = &DomainError{Code: CodeNotFound, Message: "resource not found"}
	ErrInvalidState        = &DomainError{Code: CodeInvalidState, Message: "operation not allowed in current state"}
	ErrAlreadyApproved     = &DomainError{Code: CodeAlreadyApproved, Message: "already approved"}
	ErrInsufficientBalance = &DomainError{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrInsufficientFloat   = &DomainError{Code: CodeInsufficientFloat, Message: "insufficient float"}
	ErrStorageFailure      = &DomainError{Code: CodeStorageFailure, Message: "internal storage failure"}
)

func newError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *DomainError {
	return newError(CodeValidation, format, args...)
}

func notFoundError(format string, args ...any) *DomainError {
	return newError(CodeNotFound, format, args...)
}

func invalidStateError(format string, args ...any) *DomainError {
	return newError(CodeInvalidState, format, args...)
}

// CodeOf returns the code of err, or CodeStorageFailure for anything that is not a DomainError.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeStorageFailure
}
