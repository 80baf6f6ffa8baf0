package domain

import (
	"context"
	"errors"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration indicates no AI backend is configured, or a requested one is missing
	ErrConfiguration = errors.New("configuration error")

	// ErrUpstream indicates an AI provider call failed or exceeded its deadline
	ErrUpstream = errors.New("upstream error")

	// ErrParse indicates an extraction response was not valid structured data
	ErrParse = errors.New("parse error")

	// ErrStorage indicates an expected object is absent from object storage
	ErrStorage = errors.New("storage error")

	// ErrConflict indicates a write was based on a stale version of a record
	ErrConflict = errors.New("version conflict")

	// ErrOverwriteBlocked indicates the overwrite policy refused an automated write
	ErrOverwriteBlocked = errors.New("overwrite blocked by policy")

	// ErrJobLocked indicates another worker currently holds the document
	ErrJobLocked = errors.New("document locked by another worker")
)

// ErrorKind maps an error onto the taxonomy name recorded in processing logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrUpstream), errors.Is(err, context.DeadlineExceeded):
		return "upstream"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
