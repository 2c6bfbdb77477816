package subscription

import (
	"errors"
	"fmt"
)

var (
	ErrLimitReached  = errors.New("subscription limit reached")
	ErrNotPrivileged = errors.New("subscriber is not privileged")
	ErrBelowFloor    = errors.New("minimum iv is below the bulk subscription floor")
	ErrDisabled      = errors.New("subscriptions are disabled")
)

// ValidationError reports a rejected input value. State is never modified
// when one is returned.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func invalid(field string, value any, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}
