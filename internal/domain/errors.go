// Package domain defines the core task entities and errors.
package domain

import "errors"

// Common domain errors used across the engine.
var (
	// ErrTaskIDEmpty is returned when a task has no id.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskTypeEmpty is returned when a task has no type.
	ErrTaskTypeEmpty = errors.New("task type cannot be empty")

	// ErrInvalidTaskStatus is returned when a status value is not one of the
	// known states. Seeing it on a stored record means the record is corrupt
	// or was written by an incompatible schema version.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidTaskPriority is returned when a priority value is outside
	// the low..critical range.
	ErrInvalidTaskPriority = errors.New("invalid task priority")

	// ErrInvalidTaskTimeout is returned when a task timeout is not positive.
	ErrInvalidTaskTimeout = errors.New("task timeout must be positive")

	// ErrInvalidMaxRetries is returned when the retry budget is negative.
	ErrInvalidMaxRetries = errors.New("max retries cannot be negative")

	// ErrInvalidTaskState is returned when a task's fields are mutually
	// inconsistent.
	ErrInvalidTaskState = errors.New("invalid task state")

	// ErrInvalidTransition is returned when a status change violates the
	// task state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)
