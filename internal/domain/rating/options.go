package rating

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBetaSquared sets the performance variance. Non-positive values are ignored.
func WithBetaSquared(betaSquared float64) Option {
	return func(e *Engine) {
		if betaSquared > 0 {
			e.betaSquared = betaSquared
		}
	}
}
