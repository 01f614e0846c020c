// Package errors provides structured error types for tablefit.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by failure domain.
type ErrorCategory string

const (
	ErrCategoryModel    ErrorCategory = "MODEL"
	ErrCategoryEngine   ErrorCategory = "ENGINE"
	ErrCategoryConflict ErrorCategory = "CONFLICT"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Model codes
	CodeInvalidName         = "INVALID_NAME"
	CodeDuplicateField      = "DUPLICATE_FIELD"
	CodeAutoIncrement       = "INVALID_AUTOINCREMENT"
	CodePrimaryKey          = "INVALID_PRIMARY_KEY"
	CodeNameCollision       = "NAME_COLLISION"
	CodeUnknownColumn       = "UNKNOWN_COLUMN"
	CodeInvalidConstraint   = "INVALID_CONSTRAINT"
	CodeInvalidVirtualTable = "INVALID_VIRTUAL_TABLE"

	// Engine codes
	CodeExecFailed  = "EXEC_FAILED"
	CodeQueryFailed = "QUERY_FAILED"
	CodeOpenFailed  = "OPEN_FAILED"

	// Conflict codes
	CodeTypeMismatch    = "TYPE_MISMATCH"
	CodeColumnNotAdded  = "COLUMN_NOT_ADDABLE"
	CodeNotVirtualTable = "VIRTUAL_MISMATCH"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeDeleteFailed   = "DELETE_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SchemaError is the structured error type used throughout the module.
type SchemaError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SchemaError) Is(target error) bool {
	var t *SchemaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SchemaError.
func New(category ErrorCategory, code, message string) *SchemaError {
	return &SchemaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SchemaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SchemaError {
	return &SchemaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SchemaError) WithDetails(details map[string]interface{}) *SchemaError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SchemaError.
func GetCategory(err error) ErrorCategory {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SchemaError.
func GetCode(err error) string {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsModelError reports whether err is a malformed model declaration.
func IsModelError(err error) bool {
	return GetCategory(err) == ErrCategoryModel
}

// IsEngineError reports whether err wraps an engine execution failure.
func IsEngineError(err error) bool {
	return GetCategory(err) == ErrCategoryEngine
}

// IsSchemaConflict reports whether err is a declared/live schema conflict.
func IsSchemaConflict(err error) bool {
	return GetCategory(err) == ErrCategoryConflict
}

// IsDuplicateColumn reports whether the engine rejected an ADD COLUMN because
// the column already exists.
func IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// IsAlreadyExists reports whether the engine rejected a CREATE because the
// object already exists.
func IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// isRetryable determines if an error code is retryable.
// DDL is never retried; only object storage uploads and downloads are.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewModelError(code, message string) *SchemaError {
	return New(ErrCategoryModel, code, message)
}

func NewEngineError(code, message string, cause error) *SchemaError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewSchemaConflict(code, message string) *SchemaError {
	return New(ErrCategoryConflict, code, message)
}

func NewConfigError(message string) *SchemaError {
	return New(ErrCategoryConfig, CodeInvalidConfig, message)
}

func NewStorageError(code, message string, cause error) *SchemaError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *SchemaError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
