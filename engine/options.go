package engine

import "go.uber.org/zap"

// ============================================================================
// ENGINE OPTIONS — Functional options for Aggregate() / Execute()
// ============================================================================

// Canonical output caps. Applied inside the engine so results are bounded
// regardless of caller.
const (
	DefaultCategoryLimit = 20
	DefaultScatterLimit  = 200
	DefaultFlowLimit     = 20
	DefaultTableLimit    = 100
	DefaultGeoLimit      = 250
	DefaultBinCount      = 10
)

// Option configures engine behavior via functional options pattern.
type Option func(*config)

type config struct {
	CategoryLimit int
	ScatterLimit  int
	FlowLimit     int
	TableLimit    int
	GeoLimit      int
	BinCount      int
	Logger        *zap.Logger
}

// WithCategoryLimit caps categorical results (top-N after sorting).
func WithCategoryLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.CategoryLimit = n
		}
	}
}

// WithScatterLimit caps scatter points.
func WithScatterLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.ScatterLimit = n
		}
	}
}

// WithFlowLimit caps flow edges.
func WithFlowLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.FlowLimit = n
		}
	}
}

// WithTableLimit caps table passthrough rows.
func WithTableLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.TableLimit = n
		}
	}
}

// WithGeoLimit caps geo regions.
func WithGeoLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.GeoLimit = n
		}
	}
}

// WithDefaultBinCount sets the histogram bin count used when the config has none.
func WithDefaultBinCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.BinCount = n
		}
	}
}

// WithLogger enables debug logging of each run.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// applyOptions creates a config from functional options.
func applyOptions(opts []Option) *config {
	cfg := &config{
		CategoryLimit: DefaultCategoryLimit,
		ScatterLimit:  DefaultScatterLimit,
		FlowLimit:     DefaultFlowLimit,
		TableLimit:    DefaultTableLimit,
		GeoLimit:      DefaultGeoLimit,
		BinCount:      DefaultBinCount,
		Logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
