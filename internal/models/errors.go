package models

import "errors"

// Error taxonomy shared across the pipeline and chat. Callers branch with
// errors.Is rather than probing strings.
var (
	// ErrValidation marks bad input (e.g. empty document text). Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrProviderUnavailable marks a failed embedding/completion/vector-index
	// call. Only idempotent reads may be retried at the call site.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNotReady means chat was requested before processing completed.
	ErrNotReady = errors.New("document not ready for chat")

	// ErrNotFound means an unknown document or session.
	ErrNotFound = errors.New("not found")
)
