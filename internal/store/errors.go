package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStorageUnavailable wraps every failure of the underlying database.
	// The call failed; the caller may retry later.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when required data does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRangeConflict is returned when a crystal commit does not start right
	// after the context's last crystal, or the range was already committed.
	ErrRangeConflict = errors.New("crystal range conflict")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
