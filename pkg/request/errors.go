package request

import (
	"errors"
	"fmt"
)

// Common errors returned by the requester.
var (
	// ErrRetryExhausted is returned when all transport attempts failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// TransportError is a connection-level failure: DNS, TLS, timeout, reset or
// a body that could not be read. It never represents an HTTP status.
type TransportError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
