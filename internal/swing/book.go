package swing

import (
	"fmt"
	"log"
	"sort"
	"time"

	"swingtrend/internal/model"
)

// Book routes candles of many symbols to one Tracker per symbol.
// Not safe for concurrent use; callers own the goroutine.
type Book struct {
	cfg       Config
	overrides map[string]Config
	trackers  map[string]*Tracker

	onBreakout Handler
	onReversal Handler
}

// NewBook creates an empty book. cfg applies to every symbol without an override.
func NewBook(cfg Config) (*Book, error) {
	if err := cfg.withDefaults().validate(); err != nil {
		return nil, err
	}
	return &Book{
		cfg:       cfg,
		overrides: make(map[string]Config),
		trackers:  make(map[string]*Tracker, 64),
	}, nil
}

// SetSymbolConfig overrides the tracker config for one symbol. It only
// affects trackers created after the call.
func (b *Book) SetSymbolConfig(symbol string, cfg Config) error {
	if err := cfg.withDefaults().validate(); err != nil {
		return fmt.Errorf("symbol %s: %w", symbol, err)
	}
	b.overrides[symbol] = cfg
	return nil
}

// OnBreakout sets the breakout handler on every current and future tracker.
func (b *Book) OnBreakout(h Handler) {
	b.onBreakout = h
	for _, t := range b.trackers {
		t.OnBreakout(h)
	}
}

// OnReversal sets the reversal handler on every current and future tracker.
func (b *Book) OnReversal(h Handler) {
	b.onReversal = h
	for _, t := range b.trackers {
		t.OnReversal(h)
	}
}

// Tracker returns the tracker for symbol, creating it on first use.
func (b *Book) Tracker(symbol string) (*Tracker, error) {
	if t, ok := b.trackers[symbol]; ok {
		return t, nil
	}
	cfg, ok := b.overrides[symbol]
	if !ok {
		cfg = b.cfg
	}
	t, err := New(cfg)
	if err != nil {
		return nil, err
	}
	t.SetSymbol(symbol)
	t.OnBreakout(b.onBreakout)
	t.OnReversal(b.onReversal)
	b.trackers[symbol] = t
	return t, nil
}

// Get returns the tracker for symbol if one exists.
func (b *Book) Get(symbol string) (*Tracker, bool) {
	t, ok := b.trackers[symbol]
	return t, ok
}

// Process feeds one candle to its symbol's tracker.
func (b *Book) Process(c model.Candle) error {
	t, err := b.Tracker(c.Key())
	if err != nil {
		return err
	}
	return t.Identify(c.TS, c.High, c.Low, c.Close)
}

// Symbols returns the tracked symbols in sorted order.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.trackers))
	for s := range b.trackers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked symbols.
func (b *Book) Len() int { return len(b.trackers) }

// BookSnapshot holds the snapshots of every tracker in a Book.
type BookSnapshot struct {
	Version    int        `json:"version"`
	Checkpoint time.Time  `json:"checkpoint"` // wall clock at capture
	Trackers   []Snapshot `json:"trackers"`
}

// SnapshotBook captures every tracker in b, sorted by symbol.
func SnapshotBook(b *Book, now time.Time) *BookSnapshot {
	snap := &BookSnapshot{
		Version:    SnapshotVersion,
		Checkpoint: now,
		Trackers:   make([]Snapshot, 0, len(b.trackers)),
	}
	for _, sym := range b.Symbols() {
		snap.Trackers = append(snap.Trackers, b.trackers[sym].Snapshot())
	}
	return snap
}

// MergeBookSnapshots returns base with every tracker of update laid over it:
// symbols in update replace their entry in base, the rest of base is kept
// as is. The result carries update's checkpoint time. base may be nil.
func MergeBookSnapshots(base, update *BookSnapshot) *BookSnapshot {
	bySymbol := make(map[string]Snapshot)
	if base != nil {
		for _, ts := range base.Trackers {
			bySymbol[ts.Symbol] = ts
		}
	}
	for _, ts := range update.Trackers {
		bySymbol[ts.Symbol] = ts
	}

	symbols := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	merged := &BookSnapshot{
		Version:    SnapshotVersion,
		Checkpoint: update.Checkpoint,
		Trackers:   make([]Snapshot, 0, len(symbols)),
	}
	for _, sym := range symbols {
		merged.Trackers = append(merged.Trackers, bySymbol[sym])
	}
	return merged
}

// RestoreBook restores the trackers of snap into b. It is tolerant of
// config changes: a tracker whose snapshot no longer validates (for example
// because its retrace threshold changed) is left cold and counted.
func RestoreBook(b *Book, snap *BookSnapshot) (restored, cold int, err error) {
	if snap.Version != SnapshotVersion {
		return 0, 0, snapshotErr("book version %d, want %d", snap.Version, SnapshotVersion)
	}
	for _, ts := range snap.Trackers {
		if ts.Symbol == "" {
			cold++
			continue
		}
		t, err := b.Tracker(ts.Symbol)
		if err != nil {
			return restored, cold, err
		}
		if err := t.Restore(ts); err != nil {
			log.Printf("[swing] %s: snapshot rejected, starting cold: %v", ts.Symbol, err)
			t.Reset()
			cold++
			continue
		}
		restored++
	}
	return restored, cold, nil
}
