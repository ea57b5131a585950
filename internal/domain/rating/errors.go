package rating

import "errors"

// Sentinel kinds for rating errors.
var (
	ErrInvalidMean        = errors.New("invalid skill mean")
	ErrInvalidVariance    = errors.New("invalid skill variance")
	ErrNonFinite          = errors.New("rating update is not finite")
	ErrDegenerateVariance = errors.New("rating update produced non-positive variance")
)
