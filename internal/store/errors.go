package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/netstat/internal/address"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/schema"
)

// Error types returned by the store. They are defined next to the component
// that detects them and re-exported here so callers need one import.
type (
	ValidationError         = contract.ValidationError
	UnsupportedAddressError = address.UnsupportedAddressError
	SchemaError             = schema.SchemaError
)

// ErrReadOnly is returned by mutations on a store opened read-only.
var ErrReadOnly = errors.New("store is read-only")

// StorageError reports a failure of the underlying database: I/O, locking,
// constraint violations other than NOT NULL, or a failed commit.
// The transaction was rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// BatchApplyError reports the first failing operation of a batch.
// Nothing from the batch was committed.
type BatchApplyError struct {
	// Index is the position of the failing operation.
	Index int
	Err   error
}

func (e *BatchApplyError) Error() string {
	return fmt.Sprintf("batch operation %d: %v", e.Index, e.Err)
}

func (e *BatchApplyError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnsupportedAddress reports whether err is or wraps an *UnsupportedAddressError.
func IsUnsupportedAddress(err error) bool {
	var ue *UnsupportedAddressError
	return errors.As(err, &ue)
}

// IsStorage reports whether err is or wraps a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsBatchApply reports whether err is or wraps a *BatchApplyError.
func IsBatchApply(err error) bool {
	var be *BatchApplyError
	return errors.As(err, &be)
}

// classify maps a database error to the store's taxonomy. NOT NULL
// violations are caller errors; everything else is a storage failure.
func classify(op string, coll *contract.Collection, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintNotNull {
		ve := &ValidationError{Message: sqliteErr.Error()}
		if coll != nil {
			ve.Collection = coll.Name
		}
		return ve
	}
	return &StorageError{Op: op, Err: err}
}
