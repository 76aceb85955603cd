package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrLookahead         = errors.New("lookahead: data not yet available")
	ErrLockHeld          = errors.New("lock already held")
)
