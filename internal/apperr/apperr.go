// Package apperr defines the error categories shared by the pipeline, the
// session store and the capability providers.
package apperr

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category recorded in step results.
type ErrorKind string

const (
	KindConfig          ErrorKind = "config"
	KindValidation      ErrorKind = "validation"
	KindProvider        ErrorKind = "provider"
	KindInvalidToken    ErrorKind = "invalid_token"
	KindStorage         ErrorKind = "storage"
	KindUnsupportedStep ErrorKind = "unsupported_step"
	KindInternal        ErrorKind = "internal"
)

// ConfigError is returned when a required credential or policy is missing or invalid.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError is returned for malformed input before any I/O happens.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
	}
	return "validation: " + e.Msg
}

// ProviderError wraps a failed call to a search or model backend.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InvalidTokenError means a ciphertext could not be authenticated or decoded.
type InvalidTokenError struct {
	Reason string
}

func (e *InvalidTokenError) Error() string {
	if e.Reason == "" {
		return "invalid token"
	}
	return "invalid token: " + e.Reason
}

// StorageError wraps a failed session datastore call.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Config builds a ConfigError from a format string.
func Config(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a ValidationError for a single field.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// KindOf classifies err into one of the ErrorKind values.
func KindOf(err error) ErrorKind {
	var (
		cfg *ConfigError
		val *ValidationError
		prv *ProviderError
		tok *InvalidTokenError
		sto *StorageError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfg):
		return KindConfig
	case errors.As(err, &val):
		return KindValidation
	case errors.As(err, &prv):
		return KindProvider
	case errors.As(err, &tok):
		return KindInvalidToken
	case errors.As(err, &sto):
		return KindStorage
	default:
		return KindInternal
	}
}
