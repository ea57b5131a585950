package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/rating"
)

const backendMemory = "memory"

// MemStore is an in-process Store. One mutex guards all state, which makes
// CompleteMatch trivially atomic.
type MemStore struct {
	mu         sync.RWMutex
	players    map[string]model.Player
	byUsername map[string]string
	matches    map[string]model.Match
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		players:    make(map[string]model.Player),
		byUsername: make(map[string]string),
		matches:    make(map[string]model.Match),
	}
}

func (s *MemStore) CreatePlayer(_ context.Context, p model.Player) (err error) {
	defer observe(backendMemory, "create_player", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[p.Username]; ok {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, p.Username)
	}
	if _, ok := s.players[p.ID]; ok {
		return fmt.Errorf("%w: player %s", ErrConflict, p.ID)
	}
	p.Skill = withDefaults(p.Skill)
	s.players[p.ID] = p
	s.byUsername[p.Username] = p.ID
	return nil
}

func (s *MemStore) GetPlayer(_ context.Context, id string) (model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return model.Player{}, fmt.Errorf("%w: player %s", ErrNotFound, id)
	}
	return p, nil
}

func (s *MemStore) GetPlayerByUsername(ctx context.Context, username string) (model.Player, error) {
	s.mu.RLock()
	id, ok := s.byUsername[username]
	s.mu.RUnlock()
	if !ok {
		return model.Player{}, fmt.Errorf("%w: username %s", ErrNotFound, username)
	}
	return s.GetPlayer(ctx, id)
}

func (s *MemStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemStore) FetchSkill(_ context.Context, playerID string) (rating.SkillModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[playerID]
	if !ok {
		return rating.SkillModel{}, fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	return withDefaults(p.Skill), nil
}

func (s *MemStore) SaveSkill(_ context.Context, playerID string, skill rating.SkillModel) (err error) {
	defer observe(backendMemory, "save_skill", time.Now(), &err)

	if err := skill.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[playerID]
	if !ok {
		return fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}
	p.Skill = skill
	s.players[playerID] = p
	return nil
}

func (s *MemStore) CreateMatch(_ context.Context, m model.Match) (err error) {
	defer observe(backendMemory, "create_match", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matches[m.ID]; ok {
		return fmt.Errorf("%w: match %s exists", ErrConflict, m.ID)
	}
	if m.Status == model.StatusWaiting {
		if _, ok := s.openMatchLocked(m.White); ok {
			return fmt.Errorf("%w: %s", ErrOpenChallenge, m.White)
		}
	}
	s.matches[m.ID] = cloneMatch(m)
	return nil
}

func (s *MemStore) GetMatch(_ context.Context, id string) (model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMatchLocked(id)
}

func (s *MemStore) ListMatchesByStatus(_ context.Context, status model.Status) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Match
	for _, m := range s.matches {
		if m.Status == status {
			out = append(out, s.decorateLocked(m))
		}
	}
	sortMatches(out)
	return out, nil
}

func (s *MemStore) OpenMatchFor(_ context.Context, whiteID string) (model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.openMatchLocked(whiteID)
	if !ok {
		return model.Match{}, fmt.Errorf("%w: open challenge for %s", ErrNotFound, whiteID)
	}
	return s.decorateLocked(m), nil
}

func (s *MemStore) JoinMatch(_ context.Context, id, blackID string, at time.Time) (_ model.Match, err error) {
	defer observe(backendMemory, "join_match", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	if m.Status != model.StatusWaiting || m.White == blackID {
		return model.Match{}, fmt.Errorf("%w: match %s cannot be joined", ErrConflict, id)
	}
	m.Black = blackID
	m.Status = model.StatusInProgress
	m.UpdatedAt = at.UTC()
	s.matches[id] = m
	return s.decorateLocked(m), nil
}

func (s *MemStore) AppendMove(_ context.Context, id, fen, move string, at time.Time) (_ model.Match, err error) {
	defer observe(backendMemory, "append_move", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	if m.Status != model.StatusInProgress {
		return model.Match{}, fmt.Errorf("%w: match %s is %s", ErrConflict, id, m.Status)
	}
	m = cloneMatch(m)
	m.FEN = fen
	if move != "" {
		m.Moves = append(m.Moves, move)
	}
	m.UpdatedAt = at.UTC()
	s.matches[id] = m
	return s.decorateLocked(m), nil
}

func (s *MemStore) MarkMatchCompleted(_ context.Context, c model.Completion) (_ model.Match, err error) {
	defer observe(backendMemory, "mark_completed", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[c.MatchID]
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, c.MatchID)
	}
	if err := checkCompletable(m); err != nil {
		return model.Match{}, err
	}
	m = complete(m, c)
	s.matches[m.ID] = m
	return s.decorateLocked(m), nil
}

func (s *MemStore) CompleteMatch(_ context.Context, c model.Completion, rate RateFunc) (_ model.Match, _ []model.Player, err error) {
	defer observe(backendMemory, "complete_match", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[c.MatchID]
	if !ok {
		return model.Match{}, nil, fmt.Errorf("%w: match %s", ErrNotFound, c.MatchID)
	}
	if err := checkCompletable(m); err != nil {
		return model.Match{}, nil, err
	}

	white, okW := s.players[m.White]
	black, okB := s.players[m.Black]
	if !okW || !okB {
		return model.Match{}, nil, fmt.Errorf("%w: players of match %s", ErrNotFound, m.ID)
	}

	players, err := settle(m, white, black, c, rate)
	if err != nil {
		return model.Match{}, nil, err
	}

	m = complete(m, c)
	s.matches[m.ID] = m
	for _, p := range players {
		s.players[p.ID] = p
	}
	return s.decorateLocked(m), players, nil
}

func (s *MemStore) Close(_ context.Context) error { return nil }

func (s *MemStore) getMatchLocked(id string) (model.Match, error) {
	m, ok := s.matches[id]
	if !ok {
		return model.Match{}, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	return s.decorateLocked(m), nil
}

func (s *MemStore) openMatchLocked(whiteID string) (model.Match, bool) {
	for _, m := range s.matches {
		if m.White == whiteID && m.Status == model.StatusWaiting {
			return m, true
		}
	}
	return model.Match{}, false
}

// decorateLocked returns a copy of m with usernames filled in.
func (s *MemStore) decorateLocked(m model.Match) model.Match {
	m = cloneMatch(m)
	if p, ok := s.players[m.White]; ok {
		m.WhiteUsername = p.Username
	}
	if p, ok := s.players[m.Black]; ok {
		m.BlackUsername = p.Username
	}
	return m
}

func cloneMatch(m model.Match) model.Match {
	moves := make([]string, len(m.Moves))
	copy(moves, m.Moves)
	m.Moves = moves
	return m
}

func sortMatches(ms []model.Match) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
