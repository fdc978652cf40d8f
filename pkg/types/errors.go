package types

import (
	"errors"
	"fmt"
)

// Error codes for request and authorization failures.
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeNotAuthorized   = "NOT_AUTHORIZED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeDuplicateObject = "DUPLICATE_OBJECT"
	ErrCodeStorageFailure  = "STORAGE_FAILURE"
)

// Error is a typed error with a stable code. Authorization and validation
// failures are expected outcomes, so callers branch on the code rather than
// matching message text.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a new typed error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
