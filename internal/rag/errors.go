package rag

import "errors"

// Sentinel errors classifying pipeline failures. Implementations wrap these
// with fmt.Errorf("...: %w", Err...) so callers can branch with errors.Is
// while still surfacing a descriptive message.
var (
	// ErrInvalidInput marks a malformed source reference or an empty or
	// out-of-bounds question.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks an absent source document or an unknown session.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable marks an unreachable or erroring generation
	// backend, embedding backend, or storage collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrDimensionMismatch marks a disagreement between an embedding's
	// dimension and the index it is compared against. This is always a
	// configuration bug and is never silently ignored.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
