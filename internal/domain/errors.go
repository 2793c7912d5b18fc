package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy of the execution engine.
// Configuration and validation errors abort a run; data and adapter
// failures skip the affected instrument for the current tick.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrDataUnavailable = errors.New("data unavailable")
	ErrAdapterFailure  = errors.New("adapter failure")
	ErrValidation      = errors.New("validation error")
)

// NewConfigurationError wraps a formatted message with ErrConfiguration
func NewConfigurationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewValidationError wraps a formatted message with ErrValidation
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NewDataUnavailableError wraps a formatted message with ErrDataUnavailable
func NewDataUnavailableError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDataUnavailable, fmt.Sprintf(format, args...))
}

// WrapAdapterFailure marks err as an adapter failure for operation op
func WrapAdapterFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrAdapterFailure, op, err)
}
