package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when a producer is used before Initialize.
	ErrNotInitialized = errors.New("producer not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("producer already initialized")

	// ErrDisposed is returned when a producer is used after Dispose.
	ErrDisposed = errors.New("producer disposed")

	// ErrProjectionOutOfRange marks a projection index the record cannot satisfy.
	ErrProjectionOutOfRange = errors.New("projection index out of range")

	// ErrSchemaMismatch marks a record wider than its schema.
	ErrSchemaMismatch = errors.New("record does not match schema")
)

// CastError reports a raw field that does not parse as its declared type.
type CastError struct {
	Field int
	Type  FieldType
	Raw   string
	Err   error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cast field %d (%q) to %s: %v", e.Field, e.Raw, e.Type, e.Err)
}

func (e *CastError) Unwrap() error {
	return e.Err
}
