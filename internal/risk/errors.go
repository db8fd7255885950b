package risk

import (
	"errors"
	"strings"
)

// Sentinel errors for the scoring path. Callers branch with errors.Is.
var (
	// ErrInvalidEvent marks malformed input. The event is rejected before
	// scoring and never retried.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrProfileUnavailable means the profile store could not be reached.
	// Scoring proceeds on population defaults with Degraded set.
	ErrProfileUnavailable = errors.New("user profile unavailable")

	// ErrModelUnavailable means no model artifact is loaded. Fatal for the
	// call; there is no meaningful score without a model.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrAttributionApproximate means exact attribution could not be
	// computed and a sampling fallback was used. Non-fatal, flagged on
	// the assessment.
	ErrAttributionApproximate = errors.New("attribution approximate")

	// ErrLatencyExceeded means the call ran past its budget. The engine
	// returns a best-effort partial result with Truncated set.
	ErrLatencyExceeded = errors.New("latency budget exceeded")
)

// FieldError describes a single invalid field on an event.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors collects every invalid field found during validation.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + " " + fe.Message
	}
	return strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrInvalidEvent) succeed on field errors.
func (e FieldErrors) Is(target error) bool {
	return target == ErrInvalidEvent
}
