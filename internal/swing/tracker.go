package swing

import (
	"log/slog"
	"math"
	"time"
)

// Handler is called synchronously when a tracker observes a breakout or a
// reversal. level is the broken swing point (breakout) or the broken
// change-of-character level (reversal). A non-nil error is returned
// unmodified from the Identify call that triggered it.
type Handler func(t *Tracker, at time.Time, close, level float64) error

// Tracker is the incremental swing-point trend state machine for one symbol.
// Not safe for concurrent use; callers own the goroutine.
type Tracker struct {
	cfg     Config
	retrace float64
	log     *slog.Logger

	symbol string
	state  State

	events   []Event
	plotting bool
	bars     []time.Time // candle timeline, kept only while recording
	series   []Bar       // trend per candle, kept only with RecordSeries

	onBreakout Handler
	onReversal Handler
}

// New creates a tracker in its initial state.
func New(cfg Config) (*Tracker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:     cfg,
		retrace: cfg.RetracePct / 100,
		log:     cfg.Logger,
	}, nil
}

// Config returns the effective configuration (defaults applied).
func (t *Tracker) Config() Config { return t.cfg }

// Symbol returns the label bound by SetSymbol or Run.
func (t *Tracker) Symbol() string { return t.symbol }

// SetSymbol binds a label used in logs, snapshots and callbacks.
func (t *Tracker) SetSymbol(symbol string) { t.symbol = symbol }

// OnBreakout sets the breakout handler. Reset keeps it.
func (t *Tracker) OnBreakout(h Handler) { t.onBreakout = h }

// OnReversal sets the reversal handler. Reset keeps it.
func (t *Tracker) OnReversal(h Handler) { t.onReversal = h }

func (t *Tracker) Trend() Trend      { return t.state.Trend }
func (t *Tracker) SPH() Level        { return t.state.SPH }
func (t *Tracker) SPL() Level        { return t.state.SPL }
func (t *Tracker) CoC() Level        { return t.state.CoC }
func (t *Tracker) CandleCount() int  { return t.state.CandleCount }
func (t *Tracker) BarsSince() int    { return t.state.BarsSince }
func (t *Tracker) LastAt() time.Time { return t.state.LastAt }

// State returns a copy of the full tracker state.
func (t *Tracker) State() State { return t.state }

// IsTrendStable reports whether enough candles have been seen to trust the trend.
func (t *Tracker) IsTrendStable() bool {
	return t.state.CandleCount >= t.cfg.StabilityThreshold
}

// IsSideways reports an undetermined trend with no directional bias yet:
// neither a higher swing low nor a lower swing high has formed.
func (t *Tracker) IsSideways() bool {
	if t.state.Trend != Undetermined || t.state.CandleCount < 2 {
		return false
	}
	bull, bear := t.bias()
	return !bull && !bear
}

// IsRangeBound reports that no swing point has been confirmed for more than
// SidewaysThreshold bars. The trend can be Up or Down and still be range-bound.
func (t *Tracker) IsRangeBound() bool {
	return t.state.BarsSince > t.cfg.SidewaysThreshold
}

// bias compares the latest pivots with the ones before them.
// Equal levels count as no bias.
func (t *Tracker) bias() (bull, bear bool) {
	s := &t.state
	bull = s.SwingLow.Valid && s.PriorLow.Valid && s.SwingLow.Price > s.PriorLow.Price
	bear = s.SwingHigh.Valid && s.PriorHigh.Valid && s.SwingHigh.Price < s.PriorHigh.Price
	return bull, bear
}

// Reset restores the initial state and clears the event log.
// Symbol and handlers are configuration and survive.
func (t *Tracker) Reset() {
	t.state = State{}
	t.events = nil
	t.bars = nil
	t.series = nil
}

// Identify processes one candle. Candles must arrive in strictly increasing
// time order; a rejected candle leaves the state untouched.
func (t *Tracker) Identify(at time.Time, high, low, close float64) error {
	if err := t.check(at, high, low, close); err != nil {
		return err
	}

	s := &t.state
	s.CandleCount++
	s.LastAt = at
	if t.recording() {
		t.bars = append(t.bars, at)
	}
	t.trim()

	if s.CandleCount == 1 {
		s.High = levelAt(high, at)
		s.Low = levelAt(low, at)
		s.PriorHigh = s.High
		s.PriorLow = s.Low
		t.mark(at)
		t.debug("first candle", at, slog.Float64("high", high), slog.Float64("low", low))
		return nil
	}
	s.BarsSince++

	if high > s.High.Price {
		s.High = levelAt(high, at)
	}
	if low < s.Low.Price {
		s.Low = levelAt(low, at)
	}

	switch s.Seeking {
	case SeekAny:
		// High side first: one confirmation per candle.
		if !t.confirmHigh(at, low) {
			t.confirmLow(at, high)
		}
	case SeekHigh:
		t.confirmHigh(at, low)
	case SeekLow:
		t.confirmLow(at, high)
	}

	var (
		fire  Handler
		level float64
	)
	switch s.Trend {
	case Undetermined:
		t.determine(at, close)

	case Up:
		switch {
		case s.SPH.Valid && close > s.SPH.Price:
			level = s.SPH.Price
			t.breakout(at, close)
			fire = t.onBreakout
		case s.CoC.Valid && close < s.CoC.Price:
			level = s.CoC.Price
			t.reverse(at, high, low, close)
			fire = t.onReversal
		}

	case Down:
		switch {
		case s.SPL.Valid && close < s.SPL.Price:
			level = s.SPL.Price
			t.breakout(at, close)
			fire = t.onBreakout
		case s.CoC.Valid && close > s.CoC.Price:
			level = s.CoC.Price
			t.reverse(at, high, low, close)
			fire = t.onReversal
		}
	}

	t.mark(at)
	if fire != nil {
		return fire(t, at, close, level)
	}
	return nil
}

func (t *Tracker) check(at time.Time, high, low, close float64) error {
	if t.state.CandleCount > 0 && !at.After(t.state.LastAt) {
		return &SequenceError{Prev: t.state.LastAt, Got: at}
	}
	invalid := func(reason string) error {
		return &InvalidCandleError{At: at, High: high, Low: low, Close: close, Reason: reason}
	}
	for _, p := range [...]float64{high, low, close} {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return invalid("prices must be positive and finite")
		}
	}
	if high < low {
		return invalid("high below low")
	}
	if close < low || close > high {
		return invalid("close outside high/low range")
	}
	return nil
}

// confirmHigh turns the running high into a swing high once the candle's low
// has pulled back far enough from it.
func (t *Tracker) confirmHigh(at time.Time, low float64) bool {
	s := &t.state
	if !s.High.At.Before(at) || low > s.High.Price*(1-t.retrace) {
		return false
	}

	if s.SwingHigh.Valid {
		s.PriorHigh = s.SwingHigh
	}
	s.SwingHigh = s.High
	s.Low = levelAt(low, at)
	s.Seeking = SeekLow
	s.BarsSince = 0
	t.record(EventSwingHigh, at, s.SwingHigh)
	t.debug("swing high", at, slog.Float64("sph", s.SwingHigh.Price), slog.Float64("prior", s.PriorHigh.Price))

	if s.Trend == Up {
		s.SPH = s.SwingHigh
		t.moveCoC(at, s.SwingLow)
	}
	return true
}

// confirmLow turns the running low into a swing low once the candle's high
// has rallied far enough from it.
func (t *Tracker) confirmLow(at time.Time, high float64) bool {
	s := &t.state
	if !s.Low.At.Before(at) || high < s.Low.Price*(1+t.retrace) {
		return false
	}

	if s.SwingLow.Valid {
		s.PriorLow = s.SwingLow
	}
	s.SwingLow = s.Low
	s.High = levelAt(high, at)
	s.Seeking = SeekHigh
	s.BarsSince = 0
	t.record(EventSwingLow, at, s.SwingLow)
	t.debug("swing low", at, slog.Float64("spl", s.SwingLow.Price), slog.Float64("prior", s.PriorLow.Price))

	if s.Trend == Down {
		s.SPL = s.SwingLow
		t.moveCoC(at, s.SwingHigh)
	}
	return true
}

// determine resolves the cold-start trend: a higher low followed by a close
// above the last swing high is Up, a lower high followed by a close below
// the last swing low is Down.
func (t *Tracker) determine(at time.Time, close float64) {
	s := &t.state
	if !s.SwingHigh.Valid || !s.SwingLow.Valid {
		return
	}
	bull, bear := t.bias()

	switch {
	case s.Seeking == SeekHigh && bull && close > s.SwingHigh.Price:
		s.Trend = Up
		t.moveCoC(at, s.SwingLow)
	case s.Seeking == SeekLow && bear && close < s.SwingLow.Price:
		s.Trend = Down
		t.moveCoC(at, s.SwingHigh)
	default:
		return
	}

	t.record(EventTrendStart, at, s.CoC)
	t.debug("trend start", at, slog.String("trend", s.Trend.String()), slog.Float64("coc", s.CoC.Price))
}

// breakout consumes the live swing point after a close beyond it and trails
// the change-of-character level to the latest opposite pivot.
func (t *Tracker) breakout(at time.Time, close float64) {
	s := &t.state
	var broken Level
	if s.Trend == Up {
		broken, s.SPH = s.SPH, Level{}
		t.moveCoC(at, s.SwingLow)
	} else {
		broken, s.SPL = s.SPL, Level{}
		t.moveCoC(at, s.SwingHigh)
	}

	t.record(EventBreakout, at, broken)
	t.debug("breakout", at,
		slog.String("trend", s.Trend.String()),
		slog.Float64("close", close),
		slog.Float64("level", broken.Price),
		slog.Float64("coc", s.CoC.Price))
}

// reverse flips the trend after a close through the change-of-character level.
// The extreme of the failed structure becomes the new CoC and a fresh
// structure starts from the breaching candle.
func (t *Tracker) reverse(at time.Time, high, low, close float64) {
	s := &t.state
	broken := s.CoC

	s.SPH, s.SPL = Level{}, Level{}
	if s.Trend == Up {
		top := s.High
		if !sameLevel(s.SwingHigh, top) {
			s.PriorHigh = s.SwingHigh
			s.SwingHigh = top
		}
		s.Trend = Down
		s.Seeking = SeekLow
		t.moveCoC(at, top)
	} else {
		bottom := s.Low
		if !sameLevel(s.SwingLow, bottom) {
			s.PriorLow = s.SwingLow
			s.SwingLow = bottom
		}
		s.Trend = Up
		s.Seeking = SeekHigh
		t.moveCoC(at, bottom)
	}
	s.High = levelAt(high, at)
	s.Low = levelAt(low, at)

	t.record(EventReversal, at, broken)
	t.debug("reversal", at,
		slog.String("trend", s.Trend.String()),
		slog.Float64("close", close),
		slog.Float64("level", broken.Price),
		slog.Float64("coc", s.CoC.Price))
}

func (t *Tracker) moveCoC(at time.Time, l Level) {
	if !l.Valid || sameLevel(t.state.CoC, l) {
		return
	}
	t.state.CoC = l
	t.record(EventChangeOfCharacter, at, l)
}

func (t *Tracker) debug(msg string, at time.Time, attrs ...slog.Attr) {
	if !t.cfg.Debug {
		return
	}
	args := make([]any, 0, len(attrs)+2)
	args = append(args, slog.String("symbol", t.symbol), slog.Time("at", at))
	for _, a := range attrs {
		args = append(args, a)
	}
	t.log.Debug(msg, args...)
}

func sameLevel(a, b Level) bool {
	return a.Valid == b.Valid && a.Price == b.Price && a.At.Equal(b.At)
}
