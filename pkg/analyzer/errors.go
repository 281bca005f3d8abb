package analyzer

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error taxonomy. Concrete error types below match
// these with errors.Is so callers can branch on the class alone.
var (
	// ErrValidation marks bad option values. Always fatal, raised before any mutation.
	ErrValidation = errors.New("invalid option")

	// ErrDataIntegrity marks edges referencing functions that do not exist.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrStorageQuery marks a failed type-relationship lookup.
	ErrStorageQuery = errors.New("storage query failed")

	// ErrFileSystem marks a failed read or write of a source or backup file.
	ErrFileSystem = errors.New("file system operation failed")

	// ErrProcess marks a validation subprocess that failed to launch or timed out.
	ErrProcess = errors.New("validation process failed")
)

// ValidationError reports an invalid configuration value.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a ValidationError.
func NewValidationError(field string, value any, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// DataIntegrityError reports an edge whose endpoints are not in the snapshot.
type DataIntegrityError struct {
	CallerID string
	CalleeID string
	Reason   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("edge %s -> %s: %s", e.CallerID, e.CalleeID, e.Reason)
}

func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// StorageQueryError wraps a failure from the type-relationship store.
type StorageQueryError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageQueryError) Error() string {
	return fmt.Sprintf("%s(%s): %v", e.Op, e.Key, e.Err)
}

func (e *StorageQueryError) Unwrap() error {
	return e.Err
}

func (e *StorageQueryError) Is(target error) bool {
	return target == ErrStorageQuery
}

// FileSystemError wraps a failed file operation.
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem
}

// ProcessError wraps a validation subprocess that could not produce a verdict.
type ProcessError struct {
	Command  string
	TimedOut bool
	Err      error
}

func (e *ProcessError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Command)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

func (e *ProcessError) Is(target error) bool {
	return target == ErrProcess
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorageQueryError reports whether err is (or wraps) a StorageQueryError.
func IsStorageQueryError(err error) bool {
	var se *StorageQueryError
	return errors.As(err, &se)
}

// IsFileSystemError reports whether err is (or wraps) a FileSystemError.
func IsFileSystemError(err error) bool {
	var fe *FileSystemError
	return errors.As(err, &fe)
}
