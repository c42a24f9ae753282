// Package fetchable holds lazily fetched values.
package fetchable

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrNotFetched is returned by Get before a value was fetched.
var ErrNotFetched = errors.New("value not fetched")

// Value is either not fetched (the zero value) or holds a fetched T.
// It is not safe for concurrent use.
type Value[T any] struct {
	value   T
	fetched bool
}

// Fetched returns a Value holding v.
func Fetched[T any](v T) Value[T] {
	return Value[T]{value: v, fetched: true}
}

// IsFetched reports whether a value is held.
func (v *Value[T]) IsFetched() bool {
	return v.fetched
}

// Get returns the held value or ErrNotFetched.
func (v *Value[T]) Get() (T, error) {
	if !v.fetched {
		var zero T
		return zero, ErrNotFetched
	}
	return v.value, nil
}

// Fetch returns the held value, calling fn first if there is none.
// The result of fn is kept only when fn succeeds.
func (v *Value[T]) Fetch(fn func() (T, error)) (T, error) {
	if v.fetched {
		return v.value, nil
	}
	value, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	v.value = value
	v.fetched = true
	return value, nil
}

// Reset forgets the held value.
func (v *Value[T]) Reset() {
	var zero T
	v.value = zero
	v.fetched = false
}

// MarshalJSON encodes the held value, or null when not fetched.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.fetched {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON treats null as not fetched and anything else as a fetched T.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		v.Reset()
		return nil
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	v.value = value
	v.fetched = true
	return nil
}
