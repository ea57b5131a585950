package service

import (
	"errors"
	"fmt"

	"github.com/okian/skillboard/internal/adapters/leaderboard"
	"github.com/okian/skillboard/internal/adapters/repository"
	"github.com/okian/skillboard/internal/domain/outcome"
	"github.com/okian/skillboard/internal/domain/rating"
)

// Sentinel kinds returned by the service. Callers map them to transport codes.
var (
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("not a player in this game")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyCompleted = errors.New("game already completed")
	ErrRating           = errors.New("rating update refused")
	ErrNotStarted       = errors.New("service not started")
)

// classify wraps err with the service kind it belongs to, keeping the cause
// in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrRating):
		return err
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, leaderboard.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrAlreadyCompleted):
		return fmt.Errorf("%w: %w", ErrAlreadyCompleted, err)
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrUsernameTaken),
		errors.Is(err, repository.ErrOpenChallenge):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, outcome.ErrInvalidFEN), errors.Is(err, outcome.ErrInvalidResult),
		errors.Is(err, outcome.ErrInvalidColor), errors.Is(err, outcome.ErrOutcomeMismatch),
		errors.Is(err, outcome.ErrNotTerminal), errors.Is(err, leaderboard.ErrInvalidLimit):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, rating.ErrInvalidMean), errors.Is(err, rating.ErrInvalidVariance),
		errors.Is(err, rating.ErrNonFinite), errors.Is(err, rating.ErrDegenerateVariance):
		return fmt.Errorf("%w: %w", ErrRating, err)
	default:
		return err
	}
}

// ratingReason labels rating failures for metrics.
func ratingReason(err error) string {
	switch {
	case errors.Is(err, rating.ErrInvalidMean):
		return "invalid_mean"
	case errors.Is(err, rating.ErrInvalidVariance):
		return "invalid_variance"
	case errors.Is(err, rating.ErrNonFinite):
		return "non_finite"
	case errors.Is(err, rating.ErrDegenerateVariance):
		return "degenerate_variance"
	default:
		return "other"
	}
}
