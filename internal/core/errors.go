package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatClaim        ErrorCategory = "claim"         // Cell leased by another identity
	ErrCatWorker       ErrorCategory = "worker"        // Adapter reported failure
	ErrCatEmptyResult  ErrorCategory = "empty_result"  // Worker succeeded but content is unusable
	ErrCatWriteBack    ErrorCategory = "write_back"    // Result obtained but store write failed
	ErrCatStructural   ErrorCategory = "structural"    // Control rows missing or graph invalid
	ErrCatRetryCeiling ErrorCategory = "retry_ceiling" // Group exhausted its retry budget
	ErrCatValidation   ErrorCategory = "validation"    // Invalid input
	ErrCatNotFound     ErrorCategory = "not_found"     // Resource not found
	ErrCatTimeout      ErrorCategory = "timeout"       // Operation timed out
	ErrCatRateLimit    ErrorCategory = "rate_limit"    // Worker rate limited
	ErrCatStore        ErrorCategory = "store"         // Tabular store I/O failure
	ErrCatCancelled    ErrorCategory = "cancelled"     // Run stopped by operator
	ErrCatInternal     ErrorCategory = "internal"      // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrClaimDenied reports that a cell is already leased by another identity.
// Callers treat it as a wait condition, not a failure.
func ErrClaimDenied(cell CellRef, owner string) *DomainError {
	return &DomainError{
		Category:  ErrCatClaim,
		Code:      CodeClaimDenied,
		Message:   fmt.Sprintf("cell %s is claimed by %s", cell, owner),
		Retryable: false,
	}
}

// ErrWorkerFailure creates a worker failure error.
func ErrWorkerFailure(kind WorkerKind, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatWorker,
		Code:      CodeWorkerFailed,
		Message:   fmt.Sprintf("%s: %s", kind, message),
		Retryable: true,
	}
}

// ErrEmptyResult creates an empty result error.
func ErrEmptyResult(cell CellRef) *DomainError {
	return &DomainError{
		Category:  ErrCatEmptyResult,
		Code:      CodeEmptyResult,
		Message:   fmt.Sprintf("cell %s has no usable answer", cell),
		Retryable: true,
	}
}

// ErrWriteBack creates a write-back failure error.
func ErrWriteBack(cell CellRef, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatWriteBack,
		Code:      CodeWriteBackFailed,
		Message:   fmt.Sprintf("writing result to %s", cell),
		Retryable: true,
		Cause:     cause,
	}
}

// ErrStructural creates a structural error. Structural errors stop the run.
func ErrStructural(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatStructural,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrRetryCeilingExceeded creates an error for a group that exhausted its retry budget.
func ErrRetryCeilingExceeded(groupID string, passes int) *DomainError {
	return &DomainError{
		Category:  ErrCatRetryCeiling,
		Code:      CodeRetryCeiling,
		Message:   fmt.Sprintf("group %s still has outstanding tasks after %d retry passes", groupID, passes),
		Retryable: false,
		Details: map[string]interface{}{
			"group_id": groupID,
			"passes":   passes,
		},
	}
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatValidation,
		Code:      code,
		Message:   message,
		Retryable: false,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      "RATE_LIMITED",
		Message:   message,
		Retryable: true,
	}
}

// ErrStore creates a retryable store I/O error.
func ErrStore(op string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatStore,
		Code:      CodeStoreIO,
		Message:   op,
		Retryable: true,
		Cause:     cause,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category:  ErrCatNotFound,
		Code:      "NOT_FOUND",
		Message:   fmt.Sprintf("%s not found: %s", resource, id),
		Retryable: false,
	}
}

// ErrCancelled creates an error for a run stopped by the operator.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCancelled,
		Code:      "CANCELLED",
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsStructural reports whether err must abort the whole run.
func IsStructural(err error) bool {
	return err != nil && IsCategory(err, ErrCatStructural)
}

// Predefined error codes
const (
	CodeClaimDenied     = "CLAIM_DENIED"
	CodeWorkerFailed    = "WORKER_FAILED"
	CodeEmptyResult     = "EMPTY_RESULT"
	CodeWriteBackFailed = "WRITE_BACK_FAILED"
	CodeRetryCeiling    = "RETRY_CEILING_EXCEEDED"
	CodeStoreIO         = "STORE_IO"

	// Structural error codes
	CodeMissingMenuRow  = "MISSING_MENU_ROW"
	CodeMissingAIRow    = "MISSING_AI_ROW"
	CodeDependencyCycle = "DEPENDENCY_CYCLE"
	CodeEmptySheet      = "EMPTY_SHEET"

	// Validation error codes
	CodeInvalidCell     = "INVALID_CELL"
	CodeUnknownKind     = "UNKNOWN_WORKER_KIND"
	CodeUnresolvedInput = "UNRESOLVED_INPUT"
)
