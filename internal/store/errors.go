package store

import (
	"errors"
	"fmt"
)

// Error classes. Specific errors below wrap one of these so callers can
// match either the class or the exact cause with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("concurrent update conflict")
	ErrUnavailable       = errors.New("store unavailable")
)

var (
	ErrTicketNotFound   = fmt.Errorf("ticket %w", ErrNotFound)
	ErrPlaceNotFound    = fmt.Errorf("place %w", ErrNotFound)
	ErrServiceNotFound  = fmt.Errorf("service %w", ErrNotFound)
	ErrUserNotFound     = fmt.Errorf("user %w", ErrNotFound)
	ErrEmployeeNotFound = fmt.Errorf("employee %w", ErrNotFound)
	ErrNumberTaken      = fmt.Errorf("ticket number already allocated: %w", ErrConflict)
	ErrStatusChanged    = fmt.Errorf("ticket status changed: %w", ErrConflict)
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError reports an action that the ticket's status does not allow.
type TransitionError struct {
	Action string
	From   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s ticket in status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
