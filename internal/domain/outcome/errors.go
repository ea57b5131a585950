package outcome

import "errors"

// Sentinel kinds for outcome errors.
var (
	ErrInvalidColor    = errors.New("invalid color")
	ErrInvalidResult   = errors.New("invalid result")
	ErrInvalidFEN      = errors.New("invalid fen")
	ErrOutcomeMismatch = errors.New("claimed result does not match position")
	ErrNotTerminal     = errors.New("position is not terminal")
)
