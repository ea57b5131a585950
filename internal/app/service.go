// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/skillboard/internal/adapters/leaderboard"
	changequeue "github.com/okian/skillboard/internal/adapters/mq/queue"
	workerpool "github.com/okian/skillboard/internal/adapters/mq/worker"
	"github.com/okian/skillboard/internal/adapters/repository"
	"github.com/okian/skillboard/internal/domain/dedupe"
	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/outcome"
	"github.com/okian/skillboard/internal/domain/rating"
	"github.com/okian/skillboard/internal/domain/types"
	"github.com/okian/skillboard/pkg/logger"
	"github.com/okian/skillboard/pkg/metrics"
)

// StartFEN is the standard initial position, used when a challenge has no FEN.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Profile is a player together with their leaderboard rank.
type Profile struct {
	model.Player
	Rank int `json:"rank"`
}

// MoveRequest records a move played in a game.
type MoveRequest struct {
	GameID        string
	FEN           string
	Move          string
	CurrentUserID string
}

// GameOverRequest reports the end of a game. WinnerColor is optional; when
// set it must agree with Result.
type GameOverRequest struct {
	GameID        string
	FEN           string
	CurrentUserID string
	Result        string
	WinnerColor   string
}

// GameOverResponse is the completed match, its moves and the rating changes
// it caused. Duplicate is set when the game had already been completed with
// the same result and nothing was changed.
type GameOverResponse struct {
	Match     model.Match          `json:"game"`
	Moves     []string             `json:"moves"`
	Changes   []model.RatingChange `json:"rating_changes,omitempty"`
	Duplicate bool                 `json:"duplicate"`
}

// Service implements the API dependencies for the rating system.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	ownsStore  bool
	board      *leaderboard.Treap
	deduper    dedupe.Deduper
	changes    changequeue.Queue
	workerPool *workerpool.Pool
	engine     *rating.Engine

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	betaSquared float64
	now         func() time.Time
	newID       func() string

	started bool
	logger  logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   10_000,
		dedupeSize:  10_000,
		betaSquared: rating.DefaultBetaSquared,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start warms the leaderboard from the store and starts the workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting rating service...")

	if s.store == nil {
		s.store = repository.NewMemStore()
		s.ownsStore = true
	}
	s.engine = rating.New(rating.WithBetaSquared(s.betaSquared))
	s.board = leaderboard.New()

	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("load players: %w", err)
	}
	if err := s.board.Load(ctx, players); err != nil {
		return fmt.Errorf("warm leaderboard: %w", err)
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.changes = changequeue.NewInMemoryQueue(changequeue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.changes, s.board)
	// Workers outlive the start-up context; Stop shuts them down.
	s.workerPool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("players", len(players)),
		logger.Float64("betaSquared", s.engine.BetaSquared()),
	)
	return nil
}

// Stop drains pending rating changes into the leaderboard and stops the
// workers. A store passed in with WithStore is left open.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping rating service...")

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}
	if s.ownsStore {
		if err := s.store.Close(ctx); err != nil {
			s.logger.Warn(ctx, "closing store", logger.Error(err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "rating service stopped")
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// RegisterPlayer creates a player with the default skill.
func (s *Service) RegisterPlayer(ctx context.Context, username string) (model.Player, error) {
	const op = "service.register_player"
	if err := s.ready(); err != nil {
		return model.Player{}, err
	}

	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return model.Player{}, fmt.Errorf("%s: %w: username must be 3-32 letters, digits, '.', '_' or '-'", op, ErrValidation)
	}

	p := model.NewPlayer(s.newID(), username, s.clock())
	if err := s.store.CreatePlayer(ctx, p); err != nil {
		return model.Player{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	if _, err := s.board.Upsert(ctx, model.ChangeFor("", p)); err != nil {
		s.logger.Warn(ctx, "new player not ranked", logger.String("player_id", p.ID), logger.Error(err))
	}

	metrics.RecordPlayerRegistered()
	s.logger.Info(ctx, "player registered", logger.String("player_id", p.ID), logger.String("username", username))
	return p, nil
}

// Profile returns a player by username together with their rank.
func (s *Service) Profile(ctx context.Context, username string) (Profile, error) {
	const op = "service.profile"
	if err := s.ready(); err != nil {
		return Profile{}, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return Profile{}, fmt.Errorf("%s: %w: missing username", op, ErrValidation)
	}

	p, err := s.store.GetPlayerByUsername(ctx, username)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	prof := Profile{Player: p}
	if e, err := s.board.Rank(ctx, p.ID); err == nil {
		prof.Rank = e.Rank
	}
	return prof, nil
}

// CreateChallenge opens a game with whiteID playing white. An empty fen
// starts from the initial position. A player may have one open challenge.
func (s *Service) CreateChallenge(ctx context.Context, whiteID, fen string) (model.Match, error) {
	const op = "service.create_challenge"
	if err := s.ready(); err != nil {
		return model.Match{}, err
	}

	whiteID = strings.TrimSpace(whiteID)
	if whiteID == "" {
		return model.Match{}, fmt.Errorf("%s: %w: missing white player", op, ErrValidation)
	}
	fen = strings.TrimSpace(fen)
	if fen == "" {
		fen = StartFEN
	}
	if err := outcome.ValidateFEN(fen); err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	if _, err := s.store.GetPlayer(ctx, whiteID); err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	now := s.clock()
	m := model.Match{
		ID:        s.newID(),
		White:     whiteID,
		FEN:       fen,
		Moves:     []string{},
		Status:    model.StatusWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	created, err := s.store.GetMatch(ctx, m.ID)
	if err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	metrics.RecordChallengeCreated()
	s.logger.Info(ctx, "challenge created", logger.String("game_id", m.ID), logger.String("white", whiteID))
	return created, nil
}

// OpenChallenges lists games waiting for an opponent, oldest first.
func (s *Service) OpenChallenges(ctx context.Context) ([]model.Match, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ms, err := s.store.ListMatchesByStatus(ctx, model.StatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("service.open_challenges: %w", classify(err))
	}
	if ms == nil {
		ms = []model.Match{}
	}
	return ms, nil
}

// JoinGame seats blackID in a waiting game and starts it.
func (s *Service) JoinGame(ctx context.Context, gameID, blackID string) (model.Match, error) {
	const op = "service.join_game"
	if err := s.ready(); err != nil {
		return model.Match{}, err
	}

	gameID, blackID = strings.TrimSpace(gameID), strings.TrimSpace(blackID)
	switch {
	case gameID == "":
		return model.Match{}, fmt.Errorf("%s: %w: missing gameId", op, ErrValidation)
	case blackID == "":
		return model.Match{}, fmt.Errorf("%s: %w: missing black player", op, ErrValidation)
	}
	if _, err := s.store.GetPlayer(ctx, blackID); err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	m, err := s.store.JoinMatch(ctx, gameID, blackID, s.clock())
	if err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	s.logger.Info(ctx, "game started",
		logger.String("game_id", m.ID),
		logger.String("white", m.White),
		logger.String("black", m.Black),
	)
	return m, nil
}

// RecordMove stores the position after a move. The FEN is checked for
// syntax only; legality is the client's concern.
func (s *Service) RecordMove(ctx context.Context, req MoveRequest) (model.Match, error) {
	const op = "service.record_move"
	if err := s.ready(); err != nil {
		return model.Match{}, err
	}

	switch {
	case strings.TrimSpace(req.GameID) == "":
		return model.Match{}, fmt.Errorf("%s: %w: missing gameId", op, ErrValidation)
	case strings.TrimSpace(req.FEN) == "":
		return model.Match{}, fmt.Errorf("%s: %w: missing fen", op, ErrValidation)
	case strings.TrimSpace(req.CurrentUserID) == "":
		return model.Match{}, fmt.Errorf("%s: %w: missing currentUserId", op, ErrValidation)
	}
	if err := outcome.ValidateFEN(req.FEN); err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	m, err := s.store.GetMatch(ctx, req.GameID)
	if err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	if !m.HasPlayer(req.CurrentUserID) {
		return model.Match{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	m, err = s.store.AppendMove(ctx, req.GameID, strings.TrimSpace(req.FEN), strings.TrimSpace(req.Move), s.clock())
	if err != nil {
		return model.Match{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	return m, nil
}

// GameOver completes a game and, for decisive results, updates both
// players' skills in the same atomic step. Reporting the same result again
// is answered idempotently; reporting a different one fails with
// ErrAlreadyCompleted.
func (s *Service) GameOver(ctx context.Context, req GameOverRequest) (GameOverResponse, error) {
	const op = "service.game_over"
	if err := s.ready(); err != nil {
		return GameOverResponse{}, err
	}

	claimed, err := validateGameOver(req)
	if err != nil {
		return GameOverResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	m, err := s.store.GetMatch(ctx, req.GameID)
	if err != nil {
		return GameOverResponse{}, fmt.Errorf("%s: %w", op, classify(err))
	}
	if !m.HasPlayer(req.CurrentUserID) {
		return GameOverResponse{}, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}

	if recorded, ok := s.deduper.Lookup(ctx, m.ID); ok {
		return s.repeated(ctx, m, claimed, recorded)
	}
	switch m.Status {
	case model.StatusCompleted:
		return s.repeated(ctx, m, claimed, m.Result)
	case model.StatusWaiting:
		return GameOverResponse{}, fmt.Errorf("%s: %w: game %s has not started", op, ErrConflict, m.ID)
	}

	final, err := outcome.Reconcile(claimed, req.FEN)
	if err != nil {
		return GameOverResponse{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	c := model.Completion{
		MatchID: m.ID,
		Result:  final,
		FEN:     strings.TrimSpace(req.FEN),
		At:      s.clock(),
	}
	var rate repository.RateFunc
	if color, ok := final.Winner(); ok {
		winnerID, okW := m.PlayerFor(color)
		loserID, okL := m.PlayerFor(color.Opponent())
		if !okW || !okL {
			return GameOverResponse{}, fmt.Errorf("%s: %w: game %s has an empty seat", op, ErrConflict, m.ID)
		}
		c.WinnerID, c.LoserID = winnerID, loserID
		rate = s.rate(ctx, m.ID)
	}

	completed, players, err := s.store.CompleteMatch(ctx, c, rate)
	if errors.Is(err, repository.ErrAlreadyCompleted) {
		// Lost a race with another report of the same game.
		metrics.RecordCompletionConflict()
		current, getErr := s.store.GetMatch(ctx, m.ID)
		if getErr != nil {
			return GameOverResponse{}, fmt.Errorf("%s: %w", op, classify(getErr))
		}
		return s.repeated(ctx, current, claimed, current.Result)
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.RecordCompletionConflict()
		}
		return GameOverResponse{}, fmt.Errorf("%s: %w", op, classify(err))
	}

	s.deduper.SeenAndRecord(ctx, completed.ID, completed.Result)
	changes := make([]model.RatingChange, 0, len(players))
	for _, p := range players {
		changes = append(changes, model.ChangeFor(completed.ID, p))
	}
	s.publish(ctx, changes)

	metrics.RecordMatchCompleted(final.String())
	s.logger.Info(ctx, "game completed",
		logger.String("game_id", completed.ID),
		logger.String("result", completed.Result),
		logger.String("winner_id", completed.WinnerID),
		logger.Bool("rated", rate != nil),
	)
	return GameOverResponse{Match: completed, Moves: completed.Moves, Changes: changes}, nil
}

func validateGameOver(req GameOverRequest) (outcome.Result, error) {
	switch {
	case strings.TrimSpace(req.GameID) == "":
		return outcome.InProgress, fmt.Errorf("%w: missing gameId", ErrValidation)
	case strings.TrimSpace(req.FEN) == "":
		return outcome.InProgress, fmt.Errorf("%w: missing fen", ErrValidation)
	case strings.TrimSpace(req.CurrentUserID) == "":
		return outcome.InProgress, fmt.Errorf("%w: missing currentUserId", ErrValidation)
	}

	claimed, err := outcome.ParseResult(req.Result)
	if err != nil {
		return outcome.InProgress, classify(err)
	}
	if strings.TrimSpace(req.WinnerColor) == "" {
		return claimed, nil
	}

	color, err := outcome.ParseColor(req.WinnerColor)
	if err != nil {
		return outcome.InProgress, classify(err)
	}
	if winner, ok := claimed.Winner(); !ok || winner != color {
		return outcome.InProgress, fmt.Errorf("%w: winnerColor %s contradicts result %q", ErrValidation, color, claimed)
	}
	return claimed, nil
}

// repeated answers a report for a game that is already completed.
func (s *Service) repeated(ctx context.Context, m model.Match, claimed outcome.Result, recorded string) (GameOverResponse, error) {
	if recorded != claimed.String() {
		return GameOverResponse{}, fmt.Errorf("service.game_over: %w: game %s ended %q, got %q",
			ErrAlreadyCompleted, m.ID, recorded, claimed)
	}
	metrics.RecordMatchDuplicate()
	s.logger.Debug(ctx, "duplicate game over", logger.String("game_id", m.ID))
	return GameOverResponse{Match: m, Moves: m.Moves, Duplicate: true}, nil
}

// rate adapts the engine to the store, recording metrics on the way.
func (s *Service) rate(ctx context.Context, gameID string) repository.RateFunc {
	return func(winner, loser rating.SkillModel) (rating.SkillModel, rating.SkillModel, error) {
		start := time.Now()
		u, err := s.engine.Update(winner, loser)
		metrics.RecordRatingLatency(float64(time.Since(start).Microseconds()) / 1000)
		if err != nil {
			metrics.RecordRatingError(ratingReason(err))
			s.logger.Error(ctx, "rating update refused", logger.String("game_id", gameID), logger.Error(err))
			return rating.SkillModel{}, rating.SkillModel{}, err
		}
		metrics.RecordRatingUpdate()
		s.logger.Debug(ctx, "rating update",
			logger.String("game_id", gameID),
			logger.Float64("p_win", u.PWin),
			logger.Float64("v", u.V),
			logger.Float64("w", u.W),
		)
		return u.Winner, u.Loser, nil
	}
}

// publish hands rating changes to the workers. A change that cannot be
// queued is applied inline so the leaderboard never misses one.
func (s *Service) publish(ctx context.Context, changes []model.RatingChange) {
	for _, c := range changes {
		err := s.changes.Enqueue(ctx, c)
		if err == nil {
			continue
		}
		s.logger.Warn(ctx, "rating change not queued, applying inline",
			logger.String("player_id", c.PlayerID),
			logger.Error(err),
		)
		if _, err := s.board.Upsert(ctx, c); err != nil {
			metrics.RecordLeaderboardError()
			s.logger.Error(ctx, "leaderboard update failed", logger.String("player_id", c.PlayerID), logger.Error(err))
		}
	}
}

// Leaderboard returns the top n players.
func (s *Service) Leaderboard(ctx context.Context, n int) ([]types.Entry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	entries, err := s.board.TopN(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("service.leaderboard: %w", classify(err))
	}
	return entries, nil
}

// Rank returns the leaderboard entry of a player.
func (s *Service) Rank(ctx context.Context, playerID string) (types.Entry, error) {
	if err := s.ready(); err != nil {
		return types.Entry{}, err
	}
	e, err := s.board.Rank(ctx, playerID)
	if err != nil {
		return types.Entry{}, fmt.Errorf("service.rank: %w", classify(err))
	}
	return e, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"betaSquared": s.betaSquared,
	}
	if s.started {
		queueLen := s.changes.Len(ctx)
		players := s.board.Count(ctx)

		stats["queueLength"] = queueLen
		stats["totalPlayers"] = players
		stats["processedChanges"] = s.workerPool.Processed()
		stats["recentCompletions"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateLeaderboardSize(players)
		metrics.UpdateWorkerCount(s.workerCount)
	}
	return stats
}
