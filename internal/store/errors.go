package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. Entity-specific variants below wrap it.
	ErrNotFound = errors.New("entity not found")

	// ErrTaskNotFound indicates that the requested task record does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrResultNotFound indicates that no terminal result is stored for the
	// task, either because it never reached a result-bearing state or
	// because the result already aged out.
	ErrResultNotFound = fmt.Errorf("%w: task result", ErrNotFound)

	// ErrDuplicate is returned when an insert would collide with an existing
	// id.
	ErrDuplicate = errors.New("entity already exists")

	// ErrQueueEmpty is returned by Dequeue when no id became eligible within
	// the wait window. It is an expected idle-poll outcome, not a fault.
	ErrQueueEmpty = errors.New("task queue is empty")

	// ErrCorruptRecord is returned when stored task data cannot be decoded
	// into a valid task. Corrupt records surface as errors rather than
	// being silently dropped.
	ErrCorruptRecord = errors.New("corrupt task record")

	// ErrUpdateFailed is returned when an update affects no rows.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a transaction fails to commit or
	// an operation inside one fails.
	ErrTransactionFailed = errors.New("transaction failed")
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
