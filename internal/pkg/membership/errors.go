package membership

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a request that cannot be served from stored or catalog data.
	ErrNotFound = errors.New("not found")
	// ErrNoDefaultPlan is returned when a fallback grant is needed but the
	// catalog holds no usable default plan.
	ErrNoDefaultPlan = fmt.Errorf("%w: no default membership plan available", ErrNotFound)
)

// StoreError reports a persistence failure at a named step. Steps that ran
// before it are kept, so the user may need a repair.
type StoreError struct {
	Op     string
	Step   string
	UserID uint
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: step %s failed for user %d: %v", e.Op, e.Step, e.UserID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
