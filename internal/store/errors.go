package store

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown ids, and for tombstoned ids on user operations.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned by Create for an id the store already holds.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrStorageUnavailable wraps every underlying I/O or driver failure. The
	// operation had no effect; callers retry or surface it to the user.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// storageErr wraps a driver error so errors.Is matches ErrStorageUnavailable
// while keeping the driver error in the chain.
func storageErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsStorageUnavailable reports whether err is or wraps ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }
