// Package repository persists players, matches and skills.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/skillboard/internal/config"
	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/rating"
	"github.com/okian/skillboard/pkg/metrics"
)

// RateFunc computes the post-match skills of a winner and a loser.
type RateFunc func(winner, loser rating.SkillModel) (rating.SkillModel, rating.SkillModel, error)

// Store provides read/write access to players and matches.
type Store interface {
	CreatePlayer(ctx context.Context, p model.Player) error
	GetPlayer(ctx context.Context, id string) (model.Player, error)
	GetPlayerByUsername(ctx context.Context, username string) (model.Player, error)
	ListPlayers(ctx context.Context) ([]model.Player, error)

	// FetchSkill reads the current skill of a player, defaults applied.
	FetchSkill(ctx context.Context, playerID string) (rating.SkillModel, error)
	// SaveSkill overwrites the skill of a player.
	SaveSkill(ctx context.Context, playerID string, skill rating.SkillModel) error

	// CreateMatch stores a new match. A player may have only one waiting
	// match; a second one fails with ErrOpenChallenge.
	CreateMatch(ctx context.Context, m model.Match) error
	GetMatch(ctx context.Context, id string) (model.Match, error)
	ListMatchesByStatus(ctx context.Context, status model.Status) ([]model.Match, error)
	// OpenMatchFor returns the waiting match created by whiteID.
	OpenMatchFor(ctx context.Context, whiteID string) (model.Match, error)
	// JoinMatch seats blackID and moves the match from waiting to in_progress.
	JoinMatch(ctx context.Context, id, blackID string, at time.Time) (model.Match, error)
	// AppendMove records a move and the resulting position of an in-progress match.
	AppendMove(ctx context.Context, id, fen, move string, at time.Time) (model.Match, error)

	// MarkMatchCompleted moves an in-progress match to completed without
	// touching skills. Fails with ErrAlreadyCompleted if it already was.
	MarkMatchCompleted(ctx context.Context, c model.Completion) (model.Match, error)
	// CompleteMatch atomically completes the match, applies rate to the
	// winner and loser skills and counts the game for both players. A nil
	// rate leaves skills unchanged. Players are returned white first.
	CompleteMatch(ctx context.Context, c model.Completion, rate RateFunc) (model.Match, []model.Player, error)

	Close(ctx context.Context) error
}

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory, "":
		return NewMemStore(), nil
	case config.DriverSQLite, config.DriverPostgres:
		return NewSQLStore(ctx, cfg.StoreDriver, cfg.StoreDSN)
	case config.DriverMongo:
		return NewMongoStore(ctx, cfg.StoreDSN, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.StoreDriver)
	}
}

// checkCompletable reports why m cannot be completed, if it cannot.
func checkCompletable(m model.Match) error {
	switch m.Status {
	case model.StatusInProgress:
		return nil
	case model.StatusCompleted:
		return ErrAlreadyCompleted
	default:
		return fmt.Errorf("%w: match %s is %s", ErrConflict, m.ID, m.Status)
	}
}

// complete applies the terminal transition to m.
func complete(m model.Match, c model.Completion) model.Match {
	m.Status = model.StatusCompleted
	m.Result = c.Result.String()
	m.WinnerID = c.WinnerID
	if c.FEN != "" {
		m.FEN = c.FEN
	}
	m.UpdatedAt = c.At.UTC()
	return m
}

// settle computes the post-match state of both players. It does not mutate
// anything, so callers can persist the result or drop it on error.
func settle(m model.Match, white, black model.Player, c model.Completion, rate RateFunc) ([]model.Player, error) {
	if c.Result.Decisive() {
		winner, loser := &white, &black
		if c.WinnerID == black.ID {
			winner, loser = &black, &white
		}
		if c.WinnerID != winner.ID || (c.LoserID != "" && c.LoserID != loser.ID) {
			return nil, fmt.Errorf("%w: winner %q is not seated in match %s", ErrConflict, c.WinnerID, m.ID)
		}
		if rate != nil {
			ws, ls, err := rate(withDefaults(winner.Skill), withDefaults(loser.Skill))
			if err != nil {
				return nil, err
			}
			winner.Skill, loser.Skill = ws, ls
		}
	}
	white.GamesPlayed++
	black.GamesPlayed++
	return []model.Player{white, black}, nil
}

// withDefaults fills in a skill that was never written.
func withDefaults(s rating.SkillModel) rating.SkillModel {
	if s.Mean == 0 && s.Variance == 0 {
		return rating.Default()
	}
	return s
}

// observe records store latency and errors; use with defer.
func observe(backend, op string, start time.Time, err *error) {
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && *err != nil {
		metrics.RecordStoreError(backend, op)
	}
}
