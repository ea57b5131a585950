package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/outcome"
	"github.com/okian/skillboard/internal/domain/rating"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var baseTime = time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)

// runStoreContract exercises behaviour every Store implementation must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("players", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		alice := model.NewPlayer("p-alice", "alice", baseTime)
		if err := s.CreatePlayer(ctx, alice); err != nil {
			t.Fatalf("create alice: %v", err)
		}
		if err := s.CreatePlayer(ctx, model.NewPlayer("p-bob", "bob", baseTime)); err != nil {
			t.Fatalf("create bob: %v", err)
		}
		err := s.CreatePlayer(ctx, model.NewPlayer("p-other", "alice", baseTime))
		if !errors.Is(err, ErrUsernameTaken) {
			t.Fatalf("duplicate username: got %v, want ErrUsernameTaken", err)
		}

		got, err := s.GetPlayer(ctx, "p-alice")
		if err != nil {
			t.Fatalf("get alice: %v", err)
		}
		if got.Username != "alice" || got.Skill != rating.Default() || got.GamesPlayed != 0 {
			t.Fatalf("unexpected player: %+v", got)
		}
		if !got.CreatedAt.Equal(baseTime) {
			t.Fatalf("created_at = %v, want %v", got.CreatedAt, baseTime)
		}

		byName, err := s.GetPlayerByUsername(ctx, "bob")
		if err != nil || byName.ID != "p-bob" {
			t.Fatalf("get by username: %+v, %v", byName, err)
		}
		if _, err := s.GetPlayer(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing player: got %v, want ErrNotFound", err)
		}
		if _, err := s.GetPlayerByUsername(ctx, "carol"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing username: got %v, want ErrNotFound", err)
		}

		all, err := s.ListPlayers(ctx)
		if err != nil {
			t.Fatalf("list players: %v", err)
		}
		if len(all) != 2 || all[0].Username != "alice" || all[1].Username != "bob" {
			t.Fatalf("list players = %+v", all)
		}
	})

	t.Run("skills", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		mustCreatePlayers(t, s, "p1")

		skill, err := s.FetchSkill(ctx, "p1")
		if err != nil || skill != rating.Default() {
			t.Fatalf("fetch default skill: %+v, %v", skill, err)
		}

		want := rating.SkillModel{Mean: 27.5, Variance: 6.25}
		if err := s.SaveSkill(ctx, "p1", want); err != nil {
			t.Fatalf("save skill: %v", err)
		}
		if skill, _ = s.FetchSkill(ctx, "p1"); skill != want {
			t.Fatalf("fetch after save = %+v, want %+v", skill, want)
		}

		if err := s.SaveSkill(ctx, "p1", rating.SkillModel{Mean: 25, Variance: 0}); !errors.Is(err, rating.ErrInvalidVariance) {
			t.Fatalf("zero variance: got %v", err)
		}
		if err := s.SaveSkill(ctx, "missing", want); !errors.Is(err, ErrNotFound) {
			t.Fatalf("save missing: got %v", err)
		}
		if _, err := s.FetchSkill(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("fetch missing: got %v", err)
		}
	})

	t.Run("match lifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		mustCreatePlayers(t, s, "w", "b")

		m := waitingMatch("m1", "w", baseTime)
		if err := s.CreateMatch(ctx, m); err != nil {
			t.Fatalf("create match: %v", err)
		}
		if err := s.CreateMatch(ctx, waitingMatch("m2", "w", baseTime)); !errors.Is(err, ErrOpenChallenge) {
			t.Fatalf("second open challenge: got %v, want ErrOpenChallenge", err)
		}

		open, err := s.OpenMatchFor(ctx, "w")
		if err != nil || open.ID != "m1" || open.WhiteUsername != "user-w" {
			t.Fatalf("open match: %+v, %v", open, err)
		}
		if _, err := s.OpenMatchFor(ctx, "b"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("no open match: got %v", err)
		}

		if _, err := s.JoinMatch(ctx, "m1", "w", baseTime); !errors.Is(err, ErrConflict) {
			t.Fatalf("self join: got %v, want ErrConflict", err)
		}
		if _, err := s.JoinMatch(ctx, "nope", "b", baseTime); !errors.Is(err, ErrNotFound) {
			t.Fatalf("join missing: got %v, want ErrNotFound", err)
		}
		if _, err := s.AppendMove(ctx, "m1", startFEN, "e4", baseTime); !errors.Is(err, ErrConflict) {
			t.Fatalf("move before join: got %v, want ErrConflict", err)
		}

		joinedAt := baseTime.Add(time.Minute)
		joined, err := s.JoinMatch(ctx, "m1", "b", joinedAt)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if joined.Status != model.StatusInProgress || joined.Black != "b" || joined.BlackUsername != "user-b" {
			t.Fatalf("joined match = %+v", joined)
		}
		if !joined.UpdatedAt.Equal(joinedAt) {
			t.Fatalf("updated_at = %v, want %v", joined.UpdatedAt, joinedAt)
		}
		if _, err := s.JoinMatch(ctx, "m1", "b", joinedAt); !errors.Is(err, ErrConflict) {
			t.Fatalf("second join: got %v, want ErrConflict", err)
		}

		const afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
		moved, err := s.AppendMove(ctx, "m1", afterE4, "e4", joinedAt.Add(time.Second))
		if err != nil {
			t.Fatalf("append move: %v", err)
		}
		if moved.FEN != afterE4 || len(moved.Moves) != 1 || moved.Moves[0] != "e4" {
			t.Fatalf("moved match = %+v", moved)
		}

		// A new challenge is allowed once the previous one was accepted.
		if err := s.CreateMatch(ctx, waitingMatch("m3", "w", baseTime.Add(time.Hour))); err != nil {
			t.Fatalf("new challenge after join: %v", err)
		}

		waiting, err := s.ListMatchesByStatus(ctx, model.StatusWaiting)
		if err != nil || len(waiting) != 1 || waiting[0].ID != "m3" {
			t.Fatalf("waiting matches = %+v, %v", waiting, err)
		}
		playing, err := s.ListMatchesByStatus(ctx, model.StatusInProgress)
		if err != nil || len(playing) != 1 || playing[0].ID != "m1" {
			t.Fatalf("in-progress matches = %+v, %v", playing, err)
		}
	})

	t.Run("complete decisive", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		winnerSkill := rating.SkillModel{Mean: 26, Variance: 8}
		loserSkill := rating.SkillModel{Mean: 24, Variance: 8}
		var gotWinner, gotLoser rating.SkillModel
		rate := func(w, l rating.SkillModel) (rating.SkillModel, rating.SkillModel, error) {
			gotWinner, gotLoser = w, l
			return winnerSkill, loserSkill, nil
		}

		c := model.Completion{
			MatchID: "m1", Result: outcome.WinBlack, WinnerID: "b", LoserID: "w",
			FEN: startFEN, At: baseTime.Add(time.Hour),
		}
		m, players, err := s.CompleteMatch(ctx, c, rate)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if m.Status != model.StatusCompleted || m.Result != "Win: Black" || m.WinnerID != "b" {
			t.Fatalf("completed match = %+v", m)
		}
		if gotWinner != rating.Default() || gotLoser != rating.Default() {
			t.Fatalf("rate saw %+v / %+v", gotWinner, gotLoser)
		}
		if len(players) != 2 || players[0].ID != "w" || players[1].ID != "b" {
			t.Fatalf("players not white first: %+v", players)
		}

		white, _ := s.GetPlayer(ctx, "w")
		black, _ := s.GetPlayer(ctx, "b")
		if black.Skill != winnerSkill || white.Skill != loserSkill {
			t.Fatalf("skills not persisted: white %+v black %+v", white.Skill, black.Skill)
		}
		if white.GamesPlayed != 1 || black.GamesPlayed != 1 {
			t.Fatalf("games played: white %d black %d", white.GamesPlayed, black.GamesPlayed)
		}

		_, _, err = s.CompleteMatch(ctx, c, rate)
		if !errors.Is(err, ErrAlreadyCompleted) {
			t.Fatalf("second completion: got %v, want ErrAlreadyCompleted", err)
		}
		white, _ = s.GetPlayer(ctx, "w")
		if white.GamesPlayed != 1 {
			t.Fatalf("second completion counted a game")
		}
	})

	t.Run("complete draw", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		m, players, err := s.CompleteMatch(ctx, model.Completion{
			MatchID: "m1", Result: outcome.Draw, At: baseTime.Add(time.Hour),
		}, nil)
		if err != nil {
			t.Fatalf("complete draw: %v", err)
		}
		if m.Result != "Draw" || m.WinnerID != "" || m.FEN != startFEN {
			t.Fatalf("draw match = %+v", m)
		}
		for _, p := range players {
			if p.Skill != rating.Default() || p.GamesPlayed != 1 {
				t.Fatalf("draw player = %+v", p)
			}
		}
	})

	t.Run("rate error rolls back", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		boom := errors.New("boom")
		_, _, err := s.CompleteMatch(ctx, model.Completion{
			MatchID: "m1", Result: outcome.WinWhite, WinnerID: "w", LoserID: "b", At: baseTime,
		}, func(w, l rating.SkillModel) (rating.SkillModel, rating.SkillModel, error) {
			return w, l, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("got %v, want boom", err)
		}

		m, _ := s.GetMatch(ctx, "m1")
		if m.Status != model.StatusInProgress {
			t.Fatalf("status after rollback = %s", m.Status)
		}
		w, _ := s.GetPlayer(ctx, "w")
		if w.GamesPlayed != 0 {
			t.Fatalf("games after rollback = %d", w.GamesPlayed)
		}
	})

	t.Run("winner must be seated", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		_, _, err := s.CompleteMatch(ctx, model.Completion{
			MatchID: "m1", Result: outcome.WinWhite, WinnerID: "stranger", At: baseTime,
		}, nil)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		if m, _ := s.GetMatch(ctx, "m1"); m.Status != model.StatusInProgress {
			t.Fatalf("status = %s", m.Status)
		}
	})

	t.Run("waiting match cannot complete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		mustCreatePlayers(t, s, "w")
		if err := s.CreateMatch(ctx, waitingMatch("m1", "w", baseTime)); err != nil {
			t.Fatal(err)
		}
		_, _, err := s.CompleteMatch(ctx, model.Completion{MatchID: "m1", Result: outcome.Draw, At: baseTime}, nil)
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("got %v, want ErrConflict", err)
		}
		_, _, err = s.CompleteMatch(ctx, model.Completion{MatchID: "missing", Result: outcome.Draw, At: baseTime}, nil)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("mark completed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		m, err := s.MarkMatchCompleted(ctx, model.Completion{
			MatchID: "m1", Result: outcome.WinWhite, WinnerID: "w", At: baseTime,
		})
		if err != nil || m.Status != model.StatusCompleted || m.WinnerID != "w" {
			t.Fatalf("mark completed: %+v, %v", m, err)
		}
		w, _ := s.GetPlayer(ctx, "w")
		if w.GamesPlayed != 0 || w.Skill != rating.Default() {
			t.Fatalf("mark completed touched player: %+v", w)
		}
		if _, err := s.MarkMatchCompleted(ctx, model.Completion{MatchID: "m1", Result: outcome.Draw, At: baseTime}); !errors.Is(err, ErrAlreadyCompleted) {
			t.Fatalf("second mark: got %v", err)
		}
	})

	t.Run("concurrent completion", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		startMatch(t, s, "m1", "w", "b")

		const racers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			others    []error
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := s.CompleteMatch(ctx, model.Completion{
					MatchID: "m1", Result: outcome.WinWhite, WinnerID: "w", LoserID: "b", At: baseTime,
				}, func(w, l rating.SkillModel) (rating.SkillModel, rating.SkillModel, error) {
					return rating.SkillModel{Mean: w.Mean + 1, Variance: w.Variance},
						rating.SkillModel{Mean: l.Mean - 1, Variance: l.Variance}, nil
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
					return
				}
				others = append(others, err)
			}()
		}
		wg.Wait()

		if successes != 1 {
			t.Fatalf("successes = %d, want 1 (errors: %v)", successes, others)
		}
		for _, err := range others {
			if !errors.Is(err, ErrAlreadyCompleted) && !errors.Is(err, ErrConflict) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		w, _ := s.GetPlayer(ctx, "w")
		if w.GamesPlayed != 1 || w.Skill.Mean != rating.DefaultMean+1 {
			t.Fatalf("winner after race = %+v", w)
		}
	})
}

func mustCreatePlayers(t *testing.T, s Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.CreatePlayer(context.Background(), model.NewPlayer(id, "user-"+id, baseTime)); err != nil {
			t.Fatalf("create player %s: %v", id, err)
		}
	}
}

func waitingMatch(id, white string, at time.Time) model.Match {
	return model.Match{
		ID:        id,
		White:     white,
		FEN:       startFEN,
		Moves:     []string{},
		Status:    model.StatusWaiting,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// startMatch creates both players and an in-progress match between them.
func startMatch(t *testing.T, s Store, id, white, black string) {
	t.Helper()
	ctx := context.Background()
	mustCreatePlayers(t, s, white, black)
	if err := s.CreateMatch(ctx, waitingMatch(id, white, baseTime)); err != nil {
		t.Fatalf("create match: %v", err)
	}
	if _, err := s.JoinMatch(ctx, id, black, baseTime); err != nil {
		t.Fatalf("join match: %v", err)
	}
}
