package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyCompleted = errors.New("match already completed")
	ErrConflict         = errors.New("match state conflict")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrOpenChallenge    = errors.New("player already has an open challenge")
	ErrUnknownDriver    = errors.New("unknown store driver")
)
