package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNotFound indicates the configuration file was not found.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrMissingRequiredField indicates a required field is missing.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a field has an invalid value.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError carries the section and field that failed validation.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Section, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a validation error.
func NewValidationError(section, field string, err error) *ValidationError {
	return &ValidationError{Section: section, Field: field, Err: err}
}

// LoadError carries the file that failed to load.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a load error.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
