package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

/**
 * Custom error types for the OCR recognition worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Callers branch on Code (see IsCode) instead of parsing messages.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Backend selection errors
	ErrorBackendNotFound    ErrorCode = "BACKEND_NOT_FOUND"
	ErrorBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	ErrorAllBackendsFailed  ErrorCode = "ALL_BACKENDS_FAILED"

	// Processing errors
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorInvalidJob        ErrorCode = "INVALID_JOB"
	ErrorInvalidImage      ErrorCode = "INVALID_IMAGE"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrorCacheFailed   ErrorCode = "CACHE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether any error in err's chain is a ProcessingError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	for err != nil {
		if !stderrors.As(err, &pe) {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}

// CodeOf returns the code of the outermost ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewBackendNotFoundError(backend string, known []string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorBackendNotFound,
		Message:   fmt.Sprintf("Unknown recognition backend: %s", backend),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"backend":        backend,
			"known_backends": strings.Join(known, ","),
		},
	}
}

func NewBackendUnavailableError(backend string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorBackendUnavailable,
		Message:   fmt.Sprintf("Recognition backend is not available: %s", backend),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"backend": backend,
		},
	}
}

// NewAllBackendsFailedError records each attempted backend with the reason it was excluded.
func NewAllBackendsFailedError(failures map[string]string) *ProcessingError {
	details := make(map[string]interface{}, len(failures))
	for backend, reason := range failures {
		details["backend_"+backend] = reason
	}
	return &ProcessingError{
		Code:      ErrorAllBackendsFailed,
		Message:   fmt.Sprintf("All %d recognition backends failed", len(failures)),
		Timestamp: time.Now(),
		Details:   details,
	}
}

func NewRecognitionFailedError(jobID string, backend string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Recognition failed on backend: %s", backend),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"backend": backend,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewInvalidJobError(jobID string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidJob,
		Message:   fmt.Sprintf("Invalid recognition job: %s", reason),
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewInvalidImageError(reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidImage,
		Message:   fmt.Sprintf("Invalid image: %s", reason),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store recognition results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewCacheFailedError(key string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorCacheFailed,
		Message:   "Result cache operation failed",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"cache_key": key,
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
