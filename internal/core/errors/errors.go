// Package errors provides centralized error definitions for the application.
// Errors are organized by domain to avoid duplication and provide consistent naming.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Model call errors.
var (
	// ErrModelUnavailable indicates a transient network or provider error.
	// Calls failing with this error are retried with backoff.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidResponse indicates the model returned content that fails
	// schema validation. Not retried with the same prompt.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrQuotaExceeded indicates a caller-side cost or rate budget was hit.
	// Fatal for the run; requires operator intervention to resume.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")
)

// Pipeline claim and state errors.
var (
	// ErrConflict indicates a concurrent claim on an already-claimed post.
	ErrConflict = errors.New("post already claimed")

	// ErrAlreadyTerminal indicates the post's run already reached a
	// terminal state; re-invoking the pipeline on it is a no-op.
	ErrAlreadyTerminal = errors.New("run already terminal")

	// ErrStateTransition indicates an illegal scenario status change.
	// The original state is left unchanged.
	ErrStateTransition = errors.New("illegal state transition")
)

// Entity resolution errors.
var (
	// ErrNotFound is a generic not found error.
	ErrNotFound = errors.New("not found")

	// ErrPostNotFound indicates a post could not be found.
	ErrPostNotFound = errors.New("post not found")

	// ErrScenarioNotFound indicates a scenario could not be found.
	ErrScenarioNotFound = errors.New("scenario not found")
)

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
