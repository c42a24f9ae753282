package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrStoreRequired is returned by New without a cache store.
	ErrStoreRequired = errors.New("cache store is required")

	// ErrRequesterRequired is returned by New without a requester.
	ErrRequesterRequired = errors.New("requester is required")
)

// ErrorClass represents a classification of upstream status errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnexpected represents any other non-success status.
	ErrorClassUnexpected ErrorClass = "unexpected"
)

// StatusError is returned when the upstream answers with a status that is
// neither 2xx nor an expected 304.
type StatusError struct {
	URL    string
	Status int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s error (status %d) for %s", e.Class(), e.Status, e.URL)
}

// Class classifies the status for logging and metrics.
func (e *StatusError) Class() ErrorClass {
	switch {
	case e.Status >= 400 && e.Status < 500:
		return ErrorClassClient
	case e.Status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnexpected
	}
}

// DeserializeError is returned when a payload does not match the expected shape.
type DeserializeError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserialize response of %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DeserializeError) Unwrap() error {
	return e.Err
}
