package swing

import (
	"sort"
	"time"

	"swingtrend/internal/model"
)

// EventKind names a structure change recorded in the event log.
type EventKind string

const (
	EventSwingHigh         EventKind = "SWING_HIGH"
	EventSwingLow          EventKind = "SWING_LOW"
	EventChangeOfCharacter EventKind = "COC"
	EventTrendStart        EventKind = "TREND_START"
	EventBreakout          EventKind = "BREAKOUT"
	EventReversal          EventKind = "REVERSAL"
)

// Event is one entry of the structure log.
type Event struct {
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"` // candle that produced the event
	Level   float64   `json:"level"`
	LevelAt time.Time `json:"level_at"` // candle that set the level
	Trend   Trend     `json:"trend"`    // trend after the event
}

// Color tags a plot segment.
type Color string

const (
	ColorUp        Color = "g"
	ColorDown      Color = "r"
	ColorSwingHigh Color = "m"
	ColorSwingLow  Color = "c"
)

// cocLineBars is how far a change-of-character line extends to the right.
const cocLineBars = 15

// Point is a chart coordinate.
type Point struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

// Segment is a straight line between two chart coordinates.
type Segment [2]Point

// Bar is the trend in force after one candle.
type Bar struct {
	At    time.Time `json:"at"`
	Trend Trend     `json:"trend"`
}

func (t *Tracker) recording() bool {
	return t.cfg.RecordEvents || t.plotting
}

func (t *Tracker) record(kind EventKind, at time.Time, l Level) {
	if !t.recording() {
		return
	}
	t.events = append(t.events, Event{
		Kind:    kind,
		At:      at,
		Level:   l.Price,
		LevelAt: l.At,
		Trend:   t.state.Trend,
	})
}

// Events returns a copy of the structure log.
func (t *Tracker) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// mark appends the post-candle trend to the series.
func (t *Tracker) mark(at time.Time) {
	if t.cfg.RecordSeries {
		t.series = append(t.series, Bar{At: at, Trend: t.state.Trend})
	}
}

// Series returns the trend after each candle, oldest first. It is empty
// unless RecordSeries is set.
func (t *Tracker) Series() []Bar {
	out := make([]Bar, len(t.series))
	copy(out, t.series)
	return out
}

// trim enforces RecordWindow. Trimming only happens once a slice reaches
// twice the window so the copy is amortised; events older than the first
// kept bar go with it.
func (t *Tracker) trim() {
	w := t.cfg.RecordWindow
	if w == 0 {
		return
	}
	if len(t.series) >= 2*w {
		t.series = append([]Bar(nil), t.series[len(t.series)-w:]...)
	}
	if len(t.bars) < 2*w {
		return
	}
	t.bars = append([]time.Time(nil), t.bars[len(t.bars)-w:]...)
	first := t.bars[0]
	i := sort.Search(len(t.events), func(i int) bool { return !t.events[i].At.Before(first) })
	t.events = append([]Event(nil), t.events[i:]...)
}

// Run binds symbol and feeds candles in order, stopping at the first error.
// With plotLines set the tracker records what PlotLines needs; with
// RecordSeries set, Series reports the trend after every candle.
func (t *Tracker) Run(symbol string, candles []model.Candle, plotLines bool) error {
	t.symbol = symbol
	t.plotting = plotLines
	for i := range candles {
		c := &candles[i]
		if err := t.Identify(c.TS, c.High, c.Low, c.Close); err != nil {
			return err
		}
	}
	return nil
}

// PlotLines derives chart geometry from the event log: one segment per
// confirmed swing point and per change-of-character update, with a parallel
// slice of colors. It returns nil when nothing was recorded.
func (t *Tracker) PlotLines() ([]Segment, []Color) {
	if len(t.bars) == 0 {
		return nil, nil
	}

	var (
		segs   []Segment
		colors []Color
	)
	for _, e := range t.events {
		switch e.Kind {
		case EventSwingHigh:
			segs = append(segs, Segment{{e.LevelAt, e.Level}, {e.At, e.Level}})
			colors = append(colors, ColorSwingHigh)
		case EventSwingLow:
			segs = append(segs, Segment{{e.LevelAt, e.Level}, {e.At, e.Level}})
			colors = append(colors, ColorSwingLow)
		case EventChangeOfCharacter:
			c := ColorUp
			if e.Trend == Down {
				c = ColorDown
			}
			segs = append(segs, Segment{{e.LevelAt, e.Level}, {t.barsAfter(e.LevelAt, cocLineBars), e.Level}})
			colors = append(colors, c)
		}
	}
	return segs, colors
}

// barsAfter returns the timestamp n bars after at, clipped to the last bar.
func (t *Tracker) barsAfter(at time.Time, n int) time.Time {
	i := sort.Search(len(t.bars), func(i int) bool { return !t.bars[i].Before(at) })
	j := i + n
	if j >= len(t.bars) {
		j = len(t.bars) - 1
	}
	return t.bars[j]
}
