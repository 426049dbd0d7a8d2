package medallion

import (
	"errors"
	"fmt"

	"github.com/zeebo/errs"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraint indicates a uniqueness or foreign-key violation.
	// It signals a caller bug and is never retried.
	ErrConstraint = errors.New("constraint violation")

	// ErrInvalidArgument indicates a request failed validation before reaching the store.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed indicates the service has been shut down.
	ErrClosed = errors.New("closed")
)

// ConstraintError is the error class for broken uniqueness or medallion chain references.
var ConstraintError = errs.Class("constraint")

// Constraintf returns a classified constraint error that also matches ErrConstraint.
func Constraintf(format string, args ...interface{}) error {
	return ConstraintError.Wrap(fmt.Errorf("%w: %s", ErrConstraint, fmt.Sprintf(format, args...)))
}

// IsConstraint reports whether err is a constraint violation from any backend.
func IsConstraint(err error) bool {
	return errors.Is(err, ErrConstraint) || ConstraintError.Has(err)
}
