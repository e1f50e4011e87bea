package errors

import (
	"errors"
	"fmt"
)

// Error represents a typed engine error. Fatal errors abort the calculation of the
// entity they were raised for; they never abort a whole batch.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so clones compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, fatal bool, message string) *Error {
	return &Error{Code: code, Fatal: fatal, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, fatal bool, message string) *Error {
	return &Error{Code: code, Fatal: fatal, Message: message, Err: err}
}

// Predefined errors for the calculation pipeline.
var (
	ErrStructuralInput   = New("STRUCTURAL_INPUT", true, "structural input error")
	ErrInvalidInput      = New("INVALID_INPUT", true, "invalid input for strategy")
	ErrUnknownStrategy   = New("UNKNOWN_STRATEGY", true, "unknown calculation strategy")
	ErrMergeIncompatible = New("MERGE_INCOMPATIBLE", true, "metric cannot be merged across chunks")
	ErrMissingField      = New("MISSING_FIELD", true, "required result field missing")
	ErrDeadlineExceeded  = New("DEADLINE_EXCEEDED", true, "batch deadline exceeded before partition was scheduled")
	ErrValidation        = New("VALIDATION_ERROR", true, "validation failed")
	ErrNotFound          = New("NOT_FOUND", false, "resource not found")
	ErrCacheMiss         = New("CACHE_MISS", false, "cache miss")
	ErrInternal          = New("INTERNAL_ERROR", true, "internal error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Fatal, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Clonef is Clone with a formatted message.
func Clonef(err *Error, format string, args ...interface{}) *Error {
	return Clone(err, fmt.Sprintf(format, args...))
}
