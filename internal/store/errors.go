package store

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an account with the same
	// email already exists.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrManagerExists is returned when a second manager account would
	// be created.
	ErrManagerExists = errors.New("manager account already exists")

	// ErrStatusConflict is returned when a status update lost a race
	// against another update of the same request.
	ErrStatusConflict = errors.New("status changed concurrently")
)

const (
	uniqueViolation = pq.ErrorCode("23505")

	constraintUserEmail   = "users_email_key"
	constraintUserManager = "users_single_manager"
)

// mapConstraintError translates unique index violations on the users
// table into store errors. Other errors are returned unchanged.
func mapConstraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintUserEmail:
		return ErrDuplicateEmail
	case constraintUserManager:
		return ErrManagerExists
	default:
		return err
	}
}
