// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound          = errors.New("not found")
	ErrStoreBusy         = errors.New("store busy")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Import errors.
	ErrUnreadableFile    = errors.New("unreadable import file")
	ErrParse             = errors.New("parse error")
	ErrValidation        = errors.New("validation error")
	ErrMissingName       = errors.New("record has no name")
	ErrMissingKey        = errors.New("record has no key")
	ErrBatchPersistence  = errors.New("batch persistence failed")
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// ParseError reports a malformed source row. Row is 1-based and counts the
// header line, so it matches what a user sees in a spreadsheet.
type ParseError struct {
	Reason string
	Row    int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// ValidationError reports a row that parsed but violates a record constraint.
type ValidationError struct {
	Err   error
	Field string
	Row   int
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %v", e.Row, e.Field, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Is lets errors.Is match both ErrValidation and the wrapped cause.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BatchError reports a persistence failure for one import batch. Index is 1-based.
type BatchError struct {
	Err   error
	Index int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Index, e.Err)
}

func (e *BatchError) Is(target error) bool {
	return target == ErrBatchPersistence
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrStoreBusy) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
