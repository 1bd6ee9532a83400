package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a document does not exist locally or remotely
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned when adding a document whose id is taken
	ErrAlreadyExists = errors.New("document already exists")
)

// TransportError reports a failed call to the remote service
type TransportError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports malformed input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
