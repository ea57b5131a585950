package leaderboard

// Option applies a configuration option to the Treap.
type Option func(*Treap)

// WithSeed fixes the priority sequence, for reproducible tree shapes in tests.
func WithSeed(seed uint64) Option {
	return func(t *Treap) {
		t.seed = seed
	}
}
