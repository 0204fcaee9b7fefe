package common

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAvailable is returned when every provider missed and no usable
	// local data existed. It is the only caller-visible "no data" outcome.
	ErrNotAvailable = errors.New("data not available")

	// ErrNotFound is returned by the store when a symbol has no file.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest marks malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmptyResult is a provider response carrying no rows.
	ErrEmptyResult = errors.New("empty result")

	// ErrAllProvidersFailed is returned by a fallback chain when every
	// provider missed.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// StoreError reports an unreadable or corrupt local file.
type StoreError struct {
	Op     string
	Family string
	Symbol string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s/%s: %v", e.Op, e.Family, e.Symbol, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ProviderError reports a single failed provider attempt.
type ProviderError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s): %v", e.Provider, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err is (or wraps) a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
