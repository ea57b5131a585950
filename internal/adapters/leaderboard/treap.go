// Package leaderboard keeps an in-memory ranking of players by skill mean.
package leaderboard

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/skillboard/internal/domain/model"
	"github.com/okian/skillboard/internal/domain/types"
	"github.com/okian/skillboard/pkg/metrics"
)

// Index is the read/write view of the ranking used by the service.
type Index interface {
	// Upsert applies a rating change. Changes older than the indexed state
	// (fewer games played) are ignored.
	Upsert(ctx context.Context, change model.RatingChange) (bool, error)

	// Rank returns the entry of a player. Returns ErrNotFound if unknown.
	Rank(ctx context.Context, playerID string) (types.Entry, error)

	// TopN returns the top-N entries ordered by mean desc, player id asc.
	TopN(ctx context.Context, n int) ([]types.Entry, error)

	// Count returns the number of ranked players.
	Count(ctx context.Context) int
}

// Treap-based Index.
//
// Ordering: mean DESC, then player id ASC (deterministic). "less" means
// ranks earlier, so in-order traversal yields the leaderboard best first.
// Every node tracks its subtree size, which gives rank in O(log n).

type record struct {
	username    string
	mean        float64
	variance    float64
	gamesPlayed int
}

type node struct {
	id    string
	mean  float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aMean, aID) should appear before (bMean, bID).
func less(aMean float64, aID string, bMean float64, bID string) bool {
	if aMean != bMean {
		return aMean > bMean
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, mean float64, prio uint64) *node {
	if n == nil {
		return &node{id: id, mean: mean, prio: prio, size: 1}
	}
	if less(mean, id, n.mean, n.id) {
		n.left = insert(n.left, id, mean, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, mean, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, mean float64) *node {
	if n == nil {
		return nil
	}
	switch {
	case mean == n.mean && id == n.id:
		// Rotate the higher-priority child up until n is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, mean)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, mean)
		}
	case less(mean, id, n.mean, n.id):
		n.left = deleteNode(n.left, id, mean)
	default:
		n.right = deleteNode(n.right, id, mean)
	}
	fix(n)
	return n
}

// countAbove returns how many nodes have a mean strictly greater than mean.
func countAbove(n *node, mean float64) int {
	count := 0
	for n != nil {
		if n.mean > mean {
			count += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return count
}

// collectTopN appends up to limit nodes in rank order.
func collectTopN(n *node, limit int, out *[]*node) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// Treap is a concurrency-safe Index.
type Treap struct {
	mu   sync.RWMutex
	root *node
	byID map[string]record
	seed uint64
	rng  *rand.Rand
}

// New constructs an empty treap.
func New(opts ...Option) *Treap {
	t := &Treap{
		byID: make(map[string]record),
		seed: uint64(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.rng = rand.New(rand.NewPCG(t.seed, t.seed^0x9e3779b97f4a7c15))
	return t
}

// Load indexes players in bulk, typically from the store at start-up.
func (t *Treap) Load(ctx context.Context, players []model.Player) error {
	for _, p := range players {
		if _, err := t.Upsert(ctx, model.ChangeFor("", p)); err != nil {
			return fmt.Errorf("load %s: %w", p.ID, err)
		}
	}
	return nil
}

// Upsert implements Index.Upsert with O(log n) expected time.
func (t *Treap) Upsert(_ context.Context, change model.RatingChange) (bool, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if change.PlayerID == "" || math.IsNaN(change.Skill.Mean) || math.IsInf(change.Skill.Mean, 0) {
		metrics.RecordLeaderboardError()
		return false, fmt.Errorf("%w: player %q mean %v", ErrInvalidEntry, change.PlayerID, change.Skill.Mean)
	}

	t.mu.Lock()
	if old, ok := t.byID[change.PlayerID]; ok {
		if change.GamesPlayed < old.gamesPlayed {
			t.mu.Unlock()
			return false, nil
		}
		t.root = deleteNode(t.root, change.PlayerID, old.mean)
	}
	t.byID[change.PlayerID] = record{
		username:    change.Username,
		mean:        change.Skill.Mean,
		variance:    change.Skill.Variance,
		gamesPlayed: change.GamesPlayed,
	}
	t.root = insert(t.root, change.PlayerID, change.Skill.Mean, t.rng.Uint64())
	count := len(t.byID)
	t.mu.Unlock()

	metrics.RecordLeaderboardUpdate()
	metrics.UpdateLeaderboardSize(count)
	return true, nil
}

// Rank implements Index.Rank in O(log n). Players with equal means share a rank.
func (t *Treap) Rank(_ context.Context, playerID string) (types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.byID[playerID]
	if !ok {
		metrics.RecordErrorByComponent("leaderboard", "not_found")
		return types.Entry{}, ErrNotFound
	}
	return toEntry(playerID, rec, countAbove(t.root, rec.mean)+1), nil
}

// TopN implements Index.TopN.
func (t *Treap) TopN(_ context.Context, n int) ([]types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordLeaderboardQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if n < 1 {
		metrics.RecordErrorByComponent("leaderboard", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	nodes := make([]*node, 0, min(n, len(t.byID)))
	collectTopN(t.root, n, &nodes)

	out := make([]types.Entry, len(nodes))
	for i, nd := range nodes {
		rank := i + 1
		if i > 0 && nd.mean == nodes[i-1].mean {
			rank = out[i-1].Rank
		}
		out[i] = toEntry(nd.id, t.byID[nd.id], rank)
	}
	return out, nil
}

// Count returns the number of ranked players.
func (t *Treap) Count(_ context.Context) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

func toEntry(id string, rec record, rank int) types.Entry {
	return types.Entry{
		Rank:          rank,
		PlayerID:      id,
		Username:      rec.username,
		SkillMean:     rec.mean,
		SkillVariance: rec.variance,
		GamesPlayed:   rec.gamesPlayed,
	}
}
