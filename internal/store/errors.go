package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by CompareAndSwap when the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidReference is returned when a foreign key rejects a write.
	ErrInvalidReference = errors.New("referenced record does not exist")
)

func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505": // unique_violation
		return ErrDuplicate
	case "23503": // foreign_key_violation
		return ErrInvalidReference
	}
	return err
}
