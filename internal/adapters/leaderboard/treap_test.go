package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/rating"
)

func change(id string, mean float64, games int) model.RatingChange {
	return model.RatingChange{
		PlayerID:    id,
		Username:    "user-" + id,
		Skill:       rating.SkillModel{Mean: mean, Variance: 8.3333},
		GamesPlayed: games,
	}
}

func TestTreap_BasicOperations(t *testing.T) {
	ctx := context.Background()
	lb := New(WithSeed(1))

	if count := lb.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	applied, err := lb.Upsert(ctx, change("p1", 25, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Error("expected upsert to apply")
	}

	entry, err := lb.Rank(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.SkillMean != 25 || entry.Username != "user-p1" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	if _, err := lb.Rank(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := lb.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestTreap_OrderingAndTies(t *testing.T) {
	ctx := context.Background()
	lb := New(WithSeed(7))

	for _, c := range []model.RatingChange{
		change("d", 20, 1),
		change("b", 30, 1),
		change("a", 30, 1),
		change("c", 25, 1),
		change("e", 30, 1),
	} {
		if _, err := lb.Upsert(ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.PlayerID, err)
		}
	}

	top, err := lb.TopN(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantIDs := []string{"a", "b", "e", "c", "d"}
	wantRanks := []int{1, 1, 1, 4, 5}
	if len(top) != len(wantIDs) {
		t.Fatalf("expected %d entries, got %d", len(wantIDs), len(top))
	}
	for i := range top {
		if top[i].PlayerID != wantIDs[i] || top[i].Rank != wantRanks[i] {
			t.Errorf("position %d: got %s rank %d, want %s rank %d",
				i, top[i].PlayerID, top[i].Rank, wantIDs[i], wantRanks[i])
		}
		got, err := lb.Rank(ctx, top[i].PlayerID)
		if err != nil {
			t.Fatalf("rank %s: %v", top[i].PlayerID, err)
		}
		if got.Rank != top[i].Rank {
			t.Errorf("Rank(%s)=%d disagrees with TopN rank %d", top[i].PlayerID, got.Rank, top[i].Rank)
		}
	}

	top2, _ := lb.TopN(ctx, 2)
	if len(top2) != 2 || top2[1].PlayerID != "b" {
		t.Errorf("unexpected truncated top: %+v", top2)
	}
}

func TestTreap_UpdatesMoveEntries(t *testing.T) {
	ctx := context.Background()
	lb := New(WithSeed(3))

	_, _ = lb.Upsert(ctx, change("p1", 25, 0))
	_, _ = lb.Upsert(ctx, change("p2", 25.5, 0))

	if e, _ := lb.Rank(ctx, "p1"); e.Rank != 2 {
		t.Fatalf("expected p1 at rank 2, got %d", e.Rank)
	}

	if applied, _ := lb.Upsert(ctx, change("p1", 26, 1)); !applied {
		t.Fatal("expected newer change to apply")
	}
	if e, _ := lb.Rank(ctx, "p1"); e.Rank != 1 || e.GamesPlayed != 1 {
		t.Errorf("expected p1 at rank 1 after update, got %+v", e)
	}
	if lb.Count(ctx) != 2 {
		t.Errorf("expected 2 players, got %d", lb.Count(ctx))
	}

	// A change from an earlier match arriving late is ignored.
	applied, err := lb.Upsert(ctx, change("p1", 10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("expected stale change to be ignored")
	}
	if e, _ := lb.Rank(ctx, "p1"); e.SkillMean != 26 {
		t.Errorf("stale change overwrote mean: %+v", e)
	}
}

func TestTreap_InvalidEntries(t *testing.T) {
	ctx := context.Background()
	lb := New()

	for _, c := range []model.RatingChange{
		change("", 25, 0),
		change("nan", math.NaN(), 0),
		change("inf", math.Inf(1), 0),
	} {
		if _, err := lb.Upsert(ctx, c); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("expected ErrInvalidEntry for %q, got %v", c.PlayerID, err)
		}
	}
	if lb.Count(ctx) != 0 {
		t.Errorf("invalid entries were indexed")
	}
}

func TestTreap_Load(t *testing.T) {
	ctx := context.Background()
	lb := New()

	players := []model.Player{
		{ID: "a", Username: "alice", Skill: rating.SkillModel{Mean: 27, Variance: 7}, GamesPlayed: 4},
		{ID: "b", Username: "bob", Skill: rating.Default()},
	}
	if err := lb.Load(ctx, players); err != nil {
		t.Fatalf("load: %v", err)
	}

	top, _ := lb.TopN(ctx, 5)
	if len(top) != 2 || top[0].Username != "alice" || top[0].GamesPlayed != 4 {
		t.Errorf("unexpected leaderboard after load: %+v", top)
	}
}

// TestTreap_MatchesSortedReference checks ranks against a brute-force sort.
func TestTreap_MatchesSortedReference(t *testing.T) {
	ctx := context.Background()
	lb := New(WithSeed(42))
	rng := rand.New(rand.NewPCG(1, 2))

	means := make(map[string]float64)
	games := make(map[string]int)
	for i := 0; i < 5000; i++ {
		id := fmt.Sprintf("p%03d", rng.IntN(400))
		// Coarse means so ties are common.
		m := float64(rng.IntN(60)) / 2
		games[id]++
		means[id] = m
		if _, err := lb.Upsert(ctx, change(id, m, games[id])); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	ids := make([]string, 0, len(means))
	for id := range means {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return less(means[ids[i]], ids[i], means[ids[j]], ids[j])
	})

	top, err := lb.TopN(ctx, len(ids)+10)
	if err != nil {
		t.Fatalf("topN: %v", err)
	}
	if len(top) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(top))
	}

	for i, id := range ids {
		wantRank := 1
		for _, other := range ids {
			if means[other] > means[id] {
				wantRank++
			}
		}
		if top[i].PlayerID != id || top[i].Rank != wantRank {
			t.Fatalf("position %d: got %s/%d, want %s/%d", i, top[i].PlayerID, top[i].Rank, id, wantRank)
		}
		e, err := lb.Rank(ctx, id)
		if err != nil || e.Rank != wantRank {
			t.Fatalf("Rank(%s) = %d, %v; want %d", id, e.Rank, err, wantRank)
		}
	}
}

func TestTreap_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	lb := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("w%d-%d", w, i%20)
				_, _ = lb.Upsert(ctx, change(id, float64(i), i))
				_, _ = lb.TopN(ctx, 10)
				_, _ = lb.Rank(ctx, id)
			}
		}(w)
	}
	wg.Wait()

	if got := lb.Count(ctx); got != 8*20 {
		t.Errorf("expected %d players, got %d", 8*20, got)
	}
	top, _ := lb.TopN(ctx, 1000)
	for i := 1; i < len(top); i++ {
		if less(top[i].SkillMean, top[i].PlayerID, top[i-1].SkillMean, top[i-1].PlayerID) {
			t.Fatalf("entries out of order at %d", i)
		}
	}
}
