package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeLookup      = "LOOKUP_ERROR"
	ErrCodeUnsupported = "UNSUPPORTED"
)

// CheckError is the structured error type for input-contract violations.
// Validation findings are never reported through it; they are returned as
// StepIssues.
type CheckError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CheckError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CheckError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CheckError.
func NewError(code, message string) *CheckError {
	return &CheckError{Code: code, Message: message}
}

// NewErrorf creates a new CheckError with a formatted message.
func NewErrorf(code, format string, args ...any) *CheckError {
	return &CheckError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *CheckError) WithStep(stepID string) *CheckError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *CheckError) WithCause(err error) *CheckError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CheckError) WithDetails(details map[string]any) *CheckError {
	e.Details = details
	return e
}
