package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	ErrCodeOptimization  ErrorCode = "OPTIMIZATION_ERROR"
	ErrCodeTranscription ErrorCode = "TRANSCRIPTION_ERROR"
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeEncoding      ErrorCode = "ENCODING_ERROR"
	ErrCodeStore         ErrorCode = "STORE_ERROR"
)

// PipelineError is the base structured error.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// FailureKind classifies transcription failures so the processor can decide
// whether a retry makes sense.
type FailureKind string

const (
	// KindTransient covers network and 5xx-class service errors. Retryable.
	KindTransient FailureKind = "transient"

	// KindTimeout is an external call that exceeded the per-job deadline.
	// Retryable, but surfaced as a distinct terminal status after exhaustion.
	KindTimeout FailureKind = "timeout"

	// KindPermanent covers bad input and 4xx-class rejections. Never retried.
	KindPermanent FailureKind = "permanent"

	// KindLowConfidence marks a transcript below the cache acceptance
	// threshold. Not a pipeline failure: the transcript is still delivered.
	KindLowConfidence FailureKind = "low-confidence"
)

// TranscriptionError is a failed external transcription attempt.
type TranscriptionError struct {
	PipelineError
	Kind       FailureKind
	StatusCode int // HTTP status if the failure came from the service, else 0
}

func NewTranscriptionError(kind FailureKind, message string, cause error) *TranscriptionError {
	return &TranscriptionError{
		PipelineError: PipelineError{
			Code:    ErrCodeTranscription,
			Message: message,
			Cause:   cause,
		},
		Kind: kind,
	}
}

func (e *TranscriptionError) Error() string {
	base := e.PipelineError.Error()
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (kind=%s, status=%d)", base, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (kind=%s)", base, e.Kind)
}

// OptimizationError is a failed optimization step. Always recovered
// internally: the optimizer falls back to the original blob.
type OptimizationError struct {
	PipelineError
	Step string
}

func NewOptimizationError(step, message string, cause error) *OptimizationError {
	return &OptimizationError{
		PipelineError: PipelineError{
			Code:    ErrCodeOptimization,
			Message: message,
			Cause:   cause,
		},
		Step: step,
	}
}

func (e *OptimizationError) Error() string {
	return fmt.Sprintf("%s (step=%s)", e.PipelineError.Error(), e.Step)
}

// EncodingError is an external encoder invocation failure.
type EncodingError struct {
	PipelineError
	Args     []string
	ExitCode int
	Stderr   string
}

func NewEncodingError(message string, args []string, exitCode int, stderr string, cause error) *EncodingError {
	return &EncodingError{
		PipelineError: PipelineError{
			Code:    ErrCodeEncoding,
			Message: message,
			Cause:   cause,
		},
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("[%s] %s (exit=%d, stderr=%q): %v",
		e.Code, e.Message, e.ExitCode, truncate(e.Stderr, 200), e.Cause)
}

// ValidationError represents rejected input. Fails fast: consumes no retry
// budget.
type ValidationError struct {
	PipelineError
	Field string
	Value interface{}
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		PipelineError: PipelineError{
			Code:    ErrCodeValidation,
			Message: message,
		},
		Field: field,
		Value: value,
	}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] field=%s value=%v: %s", e.Code, e.Field, e.Value, e.Message)
}

// IsRetryable reports whether the error is worth another attempt.
// Context deadline errors count as retryable timeouts; validation and
// permanent service rejections do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Kind == KindTransient || te.Kind == KindTimeout
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Unclassified errors are treated as transient.
	return true
}

// IsTimeout reports whether the error is a per-job timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TranscriptionError
	if errors.As(err, &te) && te.Kind == KindTimeout {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Is enables errors.Is checks.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As enables errors.As checks.
func As[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
