package domain

import "errors"

// ErrRecordNotFound is returned when no record exists for a conversation.
var ErrRecordNotFound = errors.New("record not found")

// ErrCodeNotFound is returned when an activation code does not exist.
var ErrCodeNotFound = errors.New("activation code not found")

// ErrCodeExists is returned by the store when an inserted code violates uniqueness.
var ErrCodeExists = errors.New("activation code already exists")

// ErrCodeUnavailable is returned when a code is unknown, already used or bound to
// another conversation. Losers of a concurrent redemption race observe this error too.
var ErrCodeUnavailable = errors.New("invalid or already used activation code")

// ErrConflict is returned when a conditional write lost against a concurrent writer.
var ErrConflict = errors.New("concurrent modification")

// ErrInvalidTransition is returned when a status change would break the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidStatus is returned when a stored status value is unknown.
var ErrInvalidStatus = errors.New("invalid status")

// ErrSessionNotFound is returned when a payment session cannot be found.
var ErrSessionNotFound = errors.New("payment session not found")
