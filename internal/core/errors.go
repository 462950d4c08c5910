// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps base with a formatted cause.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Data errors
	ErrNoData           = &Error{Code: "NO_DATA", Message: "no data available"}
	ErrInsufficientData = &Error{Code: "INSUFFICIENT_DATA", Message: "insufficient data for analysis"}

	// Graph errors
	ErrGraphInvalid = &Error{Code: "GRAPH_INVALID", Message: "strategy graph invalid"}

	// Strategy errors
	ErrStrategyFailed   = &Error{Code: "STRATEGY_FAILED", Message: "strategy execution failed"}
	ErrStrategyTimeout  = &Error{Code: "STRATEGY_TIMEOUT", Message: "strategy execution timeout"}
	ErrStrategyExists   = &Error{Code: "STRATEGY_EXISTS", Message: "strategy already registered"}
	ErrStrategyNotFound = &Error{Code: "STRATEGY_NOT_FOUND", Message: "strategy not found"}
	ErrStrategyLimit    = &Error{Code: "STRATEGY_LIMIT", Message: "strategy count limit"}

	// Portfolio errors
	ErrNoViableExecution = &Error{Code: "NO_VIABLE_EXECUTION", Message: "no viable execution"}
	ErrRebalanceFailed   = &Error{Code: "REBALANCE_FAILED", Message: "rebalancing action failed"}

	// Storage errors
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "record not found"}
	ErrArchiveFailed = &Error{Code: "ARCHIVE_FAILED", Message: "snapshot archive failed"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
