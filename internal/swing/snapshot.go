package swing

import (
	"encoding/json"
	"math"
	"time"
)

// SnapshotVersion is the schema version written by Pack and required by Unpack.
const SnapshotVersion = 1

// LevelSnapshot is a serialized Level. Invalid levels are stored as null.
type LevelSnapshot struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}

// Snapshot is the serialized form of a Tracker.
type Snapshot struct {
	Version    int     `json:"version"`
	Symbol     string  `json:"symbol"`
	RetracePct float64 `json:"retrace_pct"` // threshold the state was built with

	Trend     Trend          `json:"trend"`
	High      *LevelSnapshot `json:"high"`
	Low       *LevelSnapshot `json:"low"`
	SPH       *LevelSnapshot `json:"sph"`
	SPL       *LevelSnapshot `json:"spl"`
	CoC       *LevelSnapshot `json:"coc"`
	SwingHigh *LevelSnapshot `json:"swing_high"`
	SwingLow  *LevelSnapshot `json:"swing_low"`
	PriorHigh *LevelSnapshot `json:"prior_high"`
	PriorLow  *LevelSnapshot `json:"prior_low"`
	Seeking   Side           `json:"seeking"`

	CandleCount int       `json:"candle_count"`
	BarsSince   int       `json:"bars_since"`
	LastAt      time.Time `json:"last_at"`

	Events []Event     `json:"events,omitempty"`
	Bars   []time.Time `json:"bars,omitempty"`
	Series []Bar       `json:"series,omitempty"`
}

func packLevel(l Level) *LevelSnapshot {
	if !l.Valid {
		return nil
	}
	return &LevelSnapshot{Price: l.Price, At: l.At}
}

func unpackLevel(name string, ls *LevelSnapshot) (Level, error) {
	if ls == nil {
		return Level{}, nil
	}
	if math.IsNaN(ls.Price) || math.IsInf(ls.Price, 0) || ls.Price <= 0 {
		return Level{}, snapshotErr("%s price %g is not positive", name, ls.Price)
	}
	return levelAt(ls.Price, ls.At), nil
}

// Snapshot captures the tracker state, symbol and event log.
func (t *Tracker) Snapshot() Snapshot {
	s := &t.state
	snap := Snapshot{
		Version:     SnapshotVersion,
		Symbol:      t.symbol,
		RetracePct:  t.cfg.RetracePct,
		Trend:       s.Trend,
		High:        packLevel(s.High),
		Low:         packLevel(s.Low),
		SPH:         packLevel(s.SPH),
		SPL:         packLevel(s.SPL),
		CoC:         packLevel(s.CoC),
		SwingHigh:   packLevel(s.SwingHigh),
		SwingLow:    packLevel(s.SwingLow),
		PriorHigh:   packLevel(s.PriorHigh),
		PriorLow:    packLevel(s.PriorLow),
		Seeking:     s.Seeking,
		CandleCount: s.CandleCount,
		BarsSince:   s.BarsSince,
		LastAt:      s.LastAt,
	}
	if len(t.events) > 0 {
		snap.Events = t.Events()
	}
	if len(t.bars) > 0 {
		snap.Bars = append([]time.Time(nil), t.bars...)
	}
	if len(t.series) > 0 {
		snap.Series = t.Series()
	}
	return snap
}

// Pack serializes the tracker to versioned JSON.
func (t *Tracker) Pack() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// Unpack replaces the tracker state with a packed snapshot. On error the
// tracker is left untouched. Handlers are kept.
func (t *Tracker) Unpack(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return &SnapshotFormatError{Reason: "decode", Err: err}
	}
	return t.Restore(snap)
}

// Restore validates snap and, only if it is consistent, replaces the state.
func (t *Tracker) Restore(snap Snapshot) error {
	st, err := t.validateSnapshot(&snap)
	if err != nil {
		return err
	}

	t.state = st
	if snap.Symbol != "" {
		t.symbol = snap.Symbol
	}
	t.events = append([]Event(nil), snap.Events...)
	t.bars = append([]time.Time(nil), snap.Bars...)
	t.series = append([]Bar(nil), snap.Series...)
	return nil
}

func (t *Tracker) validateSnapshot(snap *Snapshot) (State, error) {
	var st State

	if snap.Version != SnapshotVersion {
		return st, snapshotErr("version %d, want %d", snap.Version, SnapshotVersion)
	}
	if snap.RetracePct != t.cfg.RetracePct {
		return st, snapshotErr("built with retrace %g%%, tracker uses %g%%", snap.RetracePct, t.cfg.RetracePct)
	}
	if snap.Trend < Undetermined || snap.Trend > Down {
		return st, snapshotErr("unknown trend %d", int(snap.Trend))
	}
	if snap.Seeking < SeekAny || snap.Seeking > SeekLow {
		return st, snapshotErr("unknown seeking side %d", int(snap.Seeking))
	}
	if snap.CandleCount < 0 || snap.BarsSince < 0 || snap.BarsSince > snap.CandleCount {
		return st, snapshotErr("bad counters candle_count=%d bars_since=%d", snap.CandleCount, snap.BarsSince)
	}

	levels := []struct {
		name string
		src  *LevelSnapshot
		dst  *Level
	}{
		{"high", snap.High, &st.High},
		{"low", snap.Low, &st.Low},
		{"sph", snap.SPH, &st.SPH},
		{"spl", snap.SPL, &st.SPL},
		{"coc", snap.CoC, &st.CoC},
		{"swing_high", snap.SwingHigh, &st.SwingHigh},
		{"swing_low", snap.SwingLow, &st.SwingLow},
		{"prior_high", snap.PriorHigh, &st.PriorHigh},
		{"prior_low", snap.PriorLow, &st.PriorLow},
	}
	for _, l := range levels {
		v, err := unpackLevel(l.name, l.src)
		if err != nil {
			return State{}, err
		}
		*l.dst = v
		if snap.CandleCount == 0 && v.Valid {
			return State{}, snapshotErr("%s set on an empty tracker", l.name)
		}
	}

	if snap.CandleCount > 0 && (!st.High.Valid || !st.Low.Valid) {
		return State{}, snapshotErr("running high/low missing after %d candles", snap.CandleCount)
	}
	if st.High.Valid && st.Low.Valid && st.High.Price < st.Low.Price {
		return State{}, snapshotErr("running high %g below running low %g", st.High.Price, st.Low.Price)
	}

	switch snap.Trend {
	case Undetermined:
		if st.SPH.Valid || st.SPL.Valid || st.CoC.Valid {
			return State{}, snapshotErr("swing levels set while trend is undetermined")
		}
	case Up:
		if st.SPL.Valid {
			return State{}, snapshotErr("spl set while trend is UP")
		}
	case Down:
		if st.SPH.Valid {
			return State{}, snapshotErr("sph set while trend is DOWN")
		}
	}

	st.Trend = snap.Trend
	st.Seeking = snap.Seeking
	st.CandleCount = snap.CandleCount
	st.BarsSince = snap.BarsSince
	st.LastAt = snap.LastAt
	return st, nil
}
