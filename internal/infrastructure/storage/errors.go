package storage

import "errors"

var (
	// ErrKeyRequired is returned when an operation is given an empty key
	ErrKeyRequired = errors.New("storage key is required")

	// ErrObjectNotFound is returned when a key does not exist
	ErrObjectNotFound = errors.New("object not found")

	// ErrSigningUnsupported is returned when the backing store cannot sign download links
	ErrSigningUnsupported = errors.New("object store cannot sign download URLs")

	// ErrMalformedStatement is returned for a partner statement that cannot be parsed
	ErrMalformedStatement = errors.New("malformed partner statement")
)
