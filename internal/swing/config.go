package swing

import (
	"fmt"
	"log/slog"
	"os"
)

const (
	DefaultRetracePct         = 5.0
	DefaultStabilityThreshold = 40
	DefaultSidewaysThreshold  = 20

	// RecommendedStabilityThreshold is the candle count for high-confidence trends.
	RecommendedStabilityThreshold = 60
)

// Config holds construction-time tracker settings. Zero fields take defaults.
type Config struct {
	// RetracePct is the minimum pullback, in percent of the extreme,
	// that confirms a swing point.
	RetracePct float64

	// AnyRetrace drops the threshold: every pullback from the running
	// extreme confirms a swing point. RetracePct is ignored and reported as 0.
	AnyRetrace bool

	// StabilityThreshold is the candle count at which IsTrendStable turns true.
	StabilityThreshold int

	// SidewaysThreshold is the number of bars without a new swing point
	// after which IsRangeBound reports true.
	SidewaysThreshold int

	// Debug narrates every transition through Logger at debug level.
	Debug bool

	// RecordEvents keeps the structure event log (needed for PlotLines).
	RecordEvents bool

	// RecordSeries keeps the trend after every candle (see Series).
	RecordSeries bool

	// RecordWindow bounds what recording keeps to roughly the last
	// RecordWindow candles (at most twice that between trims).
	// 0 keeps everything.
	RecordWindow int

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	switch {
	case c.AnyRetrace:
		c.RetracePct = 0
	case c.RetracePct == 0:
		c.RetracePct = DefaultRetracePct
	}
	if c.StabilityThreshold == 0 {
		c.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.SidewaysThreshold == 0 {
		c.SidewaysThreshold = DefaultSidewaysThreshold
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
		if c.Debug {
			c.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}
	return c
}

func (c Config) validate() error {
	if !c.AnyRetrace && (c.RetracePct <= 0 || c.RetracePct >= 100) {
		return fmt.Errorf("swing: retrace pct must be in (0, 100), got %g", c.RetracePct)
	}
	if c.StabilityThreshold < 0 {
		return fmt.Errorf("swing: stability threshold must be >= 0, got %d", c.StabilityThreshold)
	}
	if c.SidewaysThreshold < 0 {
		return fmt.Errorf("swing: sideways threshold must be >= 0, got %d", c.SidewaysThreshold)
	}
	if c.RecordWindow < 0 {
		return fmt.Errorf("swing: record window must be >= 0, got %d", c.RecordWindow)
	}
	return nil
}
