// Package errors provides a structured error system for the cache engine
// with error codes, categories, and context.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a structured cache-engine failure.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig  ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	ErrCodeDuplicateCache ErrorCode = "DUPLICATE_CACHE"
	ErrCodeUnknownCache   ErrorCode = "UNKNOWN_CACHE"

	// Capacity errors
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	// Persistence errors
	ErrCodeSerializationFailure ErrorCode = "SERIALIZATION_FAILURE"
	ErrCodeIndexCorruption      ErrorCode = "INDEX_CORRUPTION"
	ErrCodeStorageWrite         ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageRead          ErrorCode = "STORAGE_READ"

	// Lifecycle errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeShutdown       ErrorCode = "SHUTDOWN"

	// Background task errors
	ErrCodeMaintenanceTask ErrorCode = "MAINTENANCE_TASK"

	// Fallback
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory is the general class of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryPersistence   ErrorCategory = "persistence"
	CategoryState         ErrorCategory = "state"
	CategoryMaintenance   ErrorCategory = "maintenance"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError is a structured error with context and metadata.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so callers can branch with errors.Is.
func (e *CacheError) Is(target error) bool {
	if t, ok := target.(*CacheError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new cache error.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Context:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// GetCategory determines the category for an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeDuplicateCache, ErrCodeUnknownCache:
		return CategoryConfiguration
	case ErrCodeCapacityExceeded:
		return CategoryCapacity
	case ErrCodeSerializationFailure, ErrCodeIndexCorruption, ErrCodeStorageWrite, ErrCodeStorageRead:
		return CategoryPersistence
	case ErrCodeAlreadyStarted, ErrCodeShutdown:
		return CategoryState
	case ErrCodeMaintenanceTask:
		return CategoryMaintenance
	default:
		return CategoryInternal
	}
}

// WithContext adds a key/value pair to the error context.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent tags the error with the component that produced it.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation tags the error with the operation that failed.
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause attaches the underlying error.
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}
