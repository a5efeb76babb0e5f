// Package errors provides structured error types for the Velt persistence core.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies errors by persistence-core component.
type Category string

const (
	CategoryConnection Category = "CONNECTION"
	CategoryIntegrity  Category = "INTEGRITY"
	CategoryValidation Category = "VALIDATION"
	CategoryMigration  Category = "MIGRATION"
	CategoryStorage    Category = "STORAGE"
	CategoryInternal   Category = "INTERNAL"
)

// Error codes for each category.
const (
	// Connection codes
	CodeAcquireFailed    = "ACQUIRE_FAILED"
	CodeAcquireExhausted = "ACQUIRE_EXHAUSTED"

	// Integrity codes
	CodeCorruptionDetected = "CORRUPTION_DETECTED"
	CodeRepairFailed       = "REPAIR_FAILED"

	// Validation codes
	CodeMalformedParam   = "MALFORMED_PARAM"
	CodeEmptyStatement   = "EMPTY_STATEMENT"
	CodeInvalidMigration = "INVALID_MIGRATION"

	// Migration codes
	CodeDependencyMissing = "DEPENDENCY_MISSING"
	CodeDuplicateVersion  = "DUPLICATE_VERSION"
	CodeVersionNotFound   = "VERSION_NOT_FOUND"
	CodeNoDownScript      = "NO_DOWN_SCRIPT"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// VeltError is the structured error type used throughout the system.
type VeltError struct {
	Category  Category
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *VeltError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *VeltError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *VeltError) Is(target error) bool {
	var t *VeltError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new VeltError.
func New(category Category, code, message string) *VeltError {
	return &VeltError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new VeltError wrapping an existing error.
func Wrap(category Category, code, message string, cause error) *VeltError {
	return &VeltError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *VeltError) WithDetails(details map[string]interface{}) *VeltError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ve *VeltError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a VeltError.
func GetCategory(err error) Category {
	var ve *VeltError
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a VeltError.
func GetCode(err error) string {
	var ve *VeltError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}

// isRetryable determines if an error code is retryable.
// Only pre-handoff acquisition failures are retryable; anything raised after
// a connection reaches caller code propagates untouched.
func isRetryable(category Category, code string) bool {
	switch {
	case category == CategoryConnection && code == CodeAcquireFailed:
		return true
	case category == CategoryStorage && code == CodeUploadFailed:
		return true
	case category == CategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConnectionError(code, message string, cause error) *VeltError {
	return Wrap(CategoryConnection, code, message, cause)
}

func NewIntegrityError(code, message string, cause error) *VeltError {
	return Wrap(CategoryIntegrity, code, message, cause)
}

func NewValidationError(code, message string) *VeltError {
	return New(CategoryValidation, code, message)
}

func NewMigrationError(code, message string) *VeltError {
	return New(CategoryMigration, code, message)
}

func NewStorageError(code, message string, cause error) *VeltError {
	return Wrap(CategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *VeltError {
	return Wrap(CategoryInternal, CodeUnexpected, message, cause)
}
