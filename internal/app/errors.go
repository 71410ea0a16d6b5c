package app

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidCredentials covers both unknown emails and wrong passwords so
	// callers cannot tell which one happened.
	ErrInvalidCredentials = errors.New("incorrect email address or password")

	ErrDuplicateChapterID = errors.New("chapter id already exists")
	ErrNotFound           = errors.New("not found")

	// ErrUnauthorized is returned when the session lacks the capability an
	// operation needs (admin, or any signed-in user for engagement writes).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSession is returned for missing, expired or revoked tokens.
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrStorageUnavailable wraps storage failures that are not domain outcomes.
	ErrStorageUnavailable = errors.New("storage unavailable")

	ErrInvalidInput    = errors.New("invalid input")
	ErrTooManyAttempts = errors.New("too many login attempts, try again later")
)

// storageErr tags err as ErrStorageUnavailable while keeping it in the chain.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
