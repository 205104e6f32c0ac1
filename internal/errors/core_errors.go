package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Critical errors that should stop the execution core
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryBroker        ErrorCategory = "BROKER"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Non-critical errors that can be retried or recovered from
	ErrorCategoryNetwork        ErrorCategory = "NETWORK"
	ErrorCategoryTimeout        ErrorCategory = "TIMEOUT"
	ErrorCategoryValidation     ErrorCategory = "VALIDATION"
	ErrorCategoryOrder          ErrorCategory = "ORDER"
	ErrorCategoryReconciliation ErrorCategory = "RECONCILIATION"

	// Temporary errors
	ErrorCategoryTemporary ErrorCategory = "TEMPORARY"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"
)

// CoreError represents a categorized error with context
type CoreError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *CoreError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *CoreError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *CoreError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the execution core
func (e *CoreError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal || e.Category == ErrorCategoryConfiguration
}

// New creates a new categorized core error
func New(category ErrorCategory, component, operation, message string) *CoreError {
	return &CoreError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with core error context
func Wrap(err error, category ErrorCategory, component, operation string) *CoreError {
	if err == nil {
		return nil
	}

	return &CoreError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// WithRetryable sets the retryable flag
func (e *CoreError) WithRetryable(retryable bool) *CoreError {
	e.Retryable = retryable
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary, ErrorCategoryRateLimit:
		return true
	case ErrorCategoryFatal, ErrorCategoryConfiguration:
		return false
	default:
		return false
	}
}

// Categorize attempts to categorize a generic error from the broker boundary
func Categorize(err error, component, operation string) *CoreError {
	if err == nil {
		return nil
	}

	if coreErr, ok := err.(*CoreError); ok {
		return coreErr
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "context deadline exceeded") {
		return Wrap(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") {
		return Wrap(err, ErrorCategoryNetwork, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return Wrap(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "margin") {
		return Wrap(err, ErrorCategoryOrder, component, operation).WithRetryable(false)
	}

	if strings.Contains(errMsg, "rejected") || strings.Contains(errMsg, "invalid") {
		return Wrap(err, ErrorCategoryBroker, component, operation).WithRetryable(false)
	}

	return Wrap(err, ErrorCategoryTemporary, component, operation)
}

// Common error constructors
func NewNetworkError(component, operation string, err error) *CoreError {
	return Wrap(err, ErrorCategoryNetwork, component, operation)
}

func NewTimeoutError(component, operation string, err error) *CoreError {
	return Wrap(err, ErrorCategoryTimeout, component, operation)
}

func NewValidationError(component, operation, message string) *CoreError {
	return New(ErrorCategoryValidation, component, operation, message)
}

func NewConfigurationError(component, operation, message string) *CoreError {
	return New(ErrorCategoryConfiguration, component, operation, message)
}

func NewBrokerError(component, operation string, err error) *CoreError {
	return Wrap(err, ErrorCategoryBroker, component, operation)
}

func NewReconciliationError(component, operation, message string) *CoreError {
	return New(ErrorCategoryReconciliation, component, operation, message)
}

func NewFatalError(component, operation, message string) *CoreError {
	return New(ErrorCategoryFatal, component, operation, message)
}

// RecoveryAction suggests how a caller should respond to an error
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
	RecoveryActionWait  RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error category
func (e *CoreError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryConfiguration:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary:
		return RecoveryActionRetry
	case ErrorCategoryValidation:
		return RecoveryActionSkip
	case ErrorCategoryOrder, ErrorCategoryBroker:
		if e.Retryable {
			return RecoveryActionRetry
		}
		return RecoveryActionSkip
	default:
		return RecoveryActionSkip
	}
}
