package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationErrors maps a draft field to a user-correctable message.
// A non-empty map blocks submission and is never queued.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (v ValidationErrors) Add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

// Merge copies other into v without overwriting existing messages.
func (v ValidationErrors) Merge(other ValidationErrors) {
	for f, msg := range other {
		v.Add(f, msg)
	}
}

// OrNil returns nil when there are no errors, so callers can return it as error.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// AssemblyError means validated data still failed to assemble into a payload.
// It should not occur when validation is correct.
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return "report assembly failed: " + e.Reason
}

// TransientError wraps a remote failure that should fall back to the pending queue.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StorageError wraps a durable read or write failure.
type StorageError struct {
	Op  string // get, set, remove, set_many
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries field-level validation errors.
func IsValidation(err error) (ValidationErrors, bool) {
	var v ValidationErrors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsTransient reports whether err is a transient submission failure.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsStorage reports whether err is a durable storage failure.
func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
