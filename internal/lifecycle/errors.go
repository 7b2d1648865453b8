package lifecycle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNoChange             = errors.New("status unchanged")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrUnknownStatus        = errors.New("unknown status")
	ErrLocked               = errors.New("record is locked")
)

// FieldError names the inputs a transition is still waiting for.
type FieldError struct {
	Target  string
	Missing []Field
}

func (e *FieldError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("%s: %s required to enter %s", ErrMissingRequiredField, strings.Join(names, ", "), e.Target)
}

func (e *FieldError) Unwrap() error {
	return ErrMissingRequiredField
}

func transitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
