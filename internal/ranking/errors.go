package ranking

import (
	"errors"
	"fmt"
)

// Error kinds reported by rank-affecting operations.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrConsistencyViolation = errors.New("consistency violation")
	ErrStorage              = errors.New("storage failure")
)

// Kind names the error kind of err, or "" when err matches none of them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConsistencyViolation):
		return "consistency_violation"
	case errors.Is(err, ErrStorage):
		return "storage_failure"
	default:
		return ""
	}
}

// IsRetryable reports whether the caller may retry err unchanged.
// Only storage failures qualify: every operation rolls back completely.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

// Storage wraps a backend error as a storage failure while keeping the cause inspectable.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func notFound(id string) error {
	return fmt.Errorf("task %s: %w", id, ErrNotFound)
}

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConsistencyViolation, fmt.Sprintf(format, args...))
}
