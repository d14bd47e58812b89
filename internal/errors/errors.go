// Package errors provides structured error types for planmentor.
// All errors include a category, code, message, and retryable flag so that
// callers can tell consistency faults, rejected requests, and lock contention
// apart without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by failure class.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryConsistency ErrorCategory = "CONSISTENCY"
	ErrCategoryContention  ErrorCategory = "CONTENTION"
	ErrCategoryArithmetic  ErrorCategory = "ARITHMETIC"
	ErrCategoryTelemetry   ErrorCategory = "TELEMETRY"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidMode        = "INVALID_MODE"
	CodeInvalidFingerprint = "INVALID_FINGERPRINT"
	CodeMissingReference   = "MISSING_REFERENCE"
	CodeNegativeReference  = "NEGATIVE_REFERENCE"
	CodeUnknownScope       = "UNKNOWN_SCOPE"
	CodeInvalidConfig      = "INVALID_CONFIG"

	// Consistency codes
	CodeRefcountUnderflow = "REFCOUNT_UNDERFLOW"
	CodeRefcountOverflow  = "REFCOUNT_OVERFLOW"
	CodeNotRegistered     = "NOT_REGISTERED"
	CodeEntryMissing      = "ENTRY_MISSING"
	CodeZeroFingerprint   = "ZERO_FINGERPRINT"

	// Contention codes
	CodeLockContention = "LOCK_CONTENTION"

	// Arithmetic codes
	CodeZeroDenominator     = "ZERO_DENOMINATOR"
	CodeInsufficientSamples = "INSUFFICIENT_SAMPLES"

	// Telemetry codes
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// MentorError is the structured error type used throughout the system.
type MentorError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *MentorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *MentorError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *MentorError) Is(target error) bool {
	var t *MentorError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new MentorError.
func New(category ErrorCategory, code, message string) *MentorError {
	return &MentorError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new MentorError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *MentorError {
	return &MentorError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *MentorError) WithDetails(details map[string]interface{}) *MentorError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var me *MentorError
	if errors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a MentorError.
func GetCategory(err error) ErrorCategory {
	var me *MentorError
	if errors.As(err, &me) {
		return me.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a MentorError.
func GetCode(err error) string {
	var me *MentorError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryContention:
		return true
	case category == ErrCategoryTelemetry && code == CodeSourceUnavailable:
		return true
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *MentorError {
	return New(ErrCategoryValidation, code, message)
}

func NewConsistencyError(code, message string) *MentorError {
	return New(ErrCategoryConsistency, code, message)
}

func NewContentionError(message string) *MentorError {
	return New(ErrCategoryContention, CodeLockContention, message)
}

func NewArithmeticError(code, message string) *MentorError {
	return New(ErrCategoryArithmetic, code, message)
}

func NewTelemetryError(message string, cause error) *MentorError {
	return Wrap(ErrCategoryTelemetry, CodeSourceUnavailable, message, cause)
}

func NewStorageError(code, message string, cause error) *MentorError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *MentorError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels usable with errors.Is; matching is by category and code.
var (
	ErrContention        = NewContentionError("entry is locked")
	ErrRefcountUnderflow = NewConsistencyError(CodeRefcountUnderflow, "refcount underflow")
	ErrRefcountOverflow  = NewConsistencyError(CodeRefcountOverflow, "refcount overflow")
	ErrNotRegistered     = NewConsistencyError(CodeNotRegistered, "fingerprint not registered locally")
	ErrZeroFingerprint   = NewConsistencyError(CodeZeroFingerprint, "zero fingerprint used as key")
	ErrZeroDenominator   = NewArithmeticError(CodeZeroDenominator, "zero denominator")
)
