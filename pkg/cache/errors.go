package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey indicates the URL could not be normalized into a cache key
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrCorrupted indicates stored content no longer matches its entry
	ErrCorrupted = errors.New("cache content corrupted")

	// ErrMissingContent indicates an entry whose payload is gone
	ErrMissingContent = errors.New("cache content missing")
)

// ReadError is returned when an entry or its payload cannot be loaded.
type ReadError struct {
	Key string
	Op  string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("cache read %s (%s): %v", e.Op, e.Key, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError is returned when an entry cannot be persisted.
type WriteError struct {
	Key string
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write %s (%s): %v", e.Op, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DecodingError is returned when a stored payload is not valid UTF-8.
// It is kept apart from ReadError: the bytes were read fine, they are just
// not text.
type DecodingError struct {
	Key string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("cache payload for %s is not valid utf-8", e.Key)
}
