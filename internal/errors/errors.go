package errors

import (
	"errors"
	"fmt"
	"time"
)

// Application-specific errors
var (
	ErrNotFound               = errors.New("resource not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrUnauthenticated        = errors.New("authentication required")
	ErrUnknownUser            = errors.New("unknown user")
	ErrCeilingExceeded        = errors.New("quota ceiling exceeded")
	ErrPersistenceUnavailable = errors.New("usage ledger unavailable")
	ErrTimeout                = errors.New("operation timeout")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error `json:"errors"`
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns the MultiError when it holds errors, nil otherwise.
func (e *MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return *e
	}
	return nil
}

// StoreError wraps a failure from a usage ledger backend
type StoreError struct {
	Operation string
	Err       error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Operation, e.Err)
}

func (e StoreError) Unwrap() error {
	return e.Err
}

// CeilingError reports which plan ceiling a request hit and when it frees up.
type CeilingError struct {
	Kind    string
	Limit   int
	Current int
	ResetAt time.Time
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("%s ceiling exceeded: %d/%d, resets at %s",
		e.Kind, e.Current, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *CeilingError) Unwrap() error {
	return ErrCeilingExceeded
}

// Unavailable marks err as a persistence failure while keeping the cause reachable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistenceUnavailable, err)
}
