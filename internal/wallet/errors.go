package wallet

import "errors"

// Registry errors.
var (
	// ErrNotFound is returned when a requested token does not exist.
	ErrNotFound = errors.New("token not found")

	// ErrDuplicateToken is returned when adding a token whose address is
	// already tracked.
	ErrDuplicateToken = errors.New("token already tracked")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
