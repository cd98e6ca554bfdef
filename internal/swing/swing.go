// Package swing classifies the trend of one instrument from a stream of OHLC
// candles using swing points.
//
// A running high/low becomes a confirmed swing point once price retraces from
// it by RetracePct. Higher lows broken upward start an uptrend, lower highs
// broken downward start a downtrend, and a close through the change-of-character
// level flips it. The Tracker is incremental: feed it one candle at a time,
// snapshot it with Pack, resume it with Unpack.
package swing

import (
	"fmt"
	"time"
)

// Trend is the direction classified by a Tracker.
type Trend int

const (
	Undetermined Trend = iota
	Up
	Down
)

func (t Trend) String() string {
	switch t {
	case Undetermined:
		return "UNDETERMINED"
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return fmt.Sprintf("Trend(%d)", int(t))
	}
}

// MarshalText encodes the trend by name so snapshots stay readable.
func (t Trend) MarshalText() ([]byte, error) {
	switch t {
	case Undetermined, Up, Down:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("invalid trend %d", int(t))
}

// UnmarshalText decodes a trend name.
func (t *Trend) UnmarshalText(b []byte) error {
	switch string(b) {
	case "UNDETERMINED":
		*t = Undetermined
	case "UP":
		*t = Up
	case "DOWN":
		*t = Down
	default:
		return fmt.Errorf("unknown trend %q", b)
	}
	return nil
}

// Side is the pivot the current structure is building toward.
type Side int

const (
	// SeekAny is the cold-start state: either extreme may confirm first.
	SeekAny Side = iota
	// SeekHigh follows a confirmed swing low: price is advancing.
	SeekHigh
	// SeekLow follows a confirmed swing high: price is declining.
	SeekLow
)

func (s Side) String() string {
	switch s {
	case SeekAny:
		return "ANY"
	case SeekHigh:
		return "HIGH"
	case SeekLow:
		return "LOW"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Level is an optional price level with the timestamp of the candle that set it.
type Level struct {
	Price float64
	At    time.Time
	Valid bool
}

func levelAt(price float64, at time.Time) Level {
	return Level{Price: price, At: at, Valid: true}
}

func (l Level) String() string {
	if !l.Valid {
		return "none"
	}
	return fmt.Sprintf("%g@%s", l.Price, l.At.Format(time.RFC3339))
}

// State is the complete mutable state of a Tracker.
// The zero value is the state of a freshly constructed tracker.
type State struct {
	Trend Trend

	// Running extremes of the unresolved structure.
	High Level
	Low  Level

	// Live swing point: SPH only while Up, SPL only while Down.
	SPH Level
	SPL Level

	// Change-of-character level: a close through it flips the trend.
	CoC Level

	// Latest confirmed pivots regardless of trend, and the ones before them.
	SwingHigh Level
	SwingLow  Level
	PriorHigh Level
	PriorLow  Level

	Seeking Side

	CandleCount int
	BarsSince   int
	LastAt      time.Time
}
