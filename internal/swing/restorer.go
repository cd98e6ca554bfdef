package swing

import (
	"context"
	"fmt"
	"log"
	"time"

	"swingtrend/internal/model"
)

// CandleReader is the history source used to catch a restored book up.
type CandleReader interface {
	ReadCandles(symbol string, after time.Time) ([]model.Candle, error)
}

// SnapshotSource loads the latest book snapshot. A nil snapshot with a nil
// error means none is stored.
type SnapshotSource interface {
	ReadBookSnapshot(ctx context.Context) (*BookSnapshot, error)
}

// Restorer rebuilds a Book on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start.
type Restorer struct {
	sources []namedSource
	reader  CandleReader
}

type namedSource struct {
	name string
	src  SnapshotSource
}

// NewRestorer creates a restorer that replays history from reader.
func NewRestorer(reader CandleReader) *Restorer {
	return &Restorer{reader: reader}
}

// AddSource appends a snapshot source to the chain. Sources are tried in
// the order they were added.
func (r *Restorer) AddSource(name string, src SnapshotSource) *Restorer {
	r.sources = append(r.sources, namedSource{name: name, src: src})
	return r
}

// Restore loads the first usable snapshot into b and returns the name of the
// source it came from ("cold" when none was usable).
func (r *Restorer) Restore(ctx context.Context, b *Book) string {
	for _, s := range r.sources {
		snap, err := s.src.ReadBookSnapshot(ctx)
		if err != nil {
			log.Printf("[restorer] WARNING: %s snapshot read failed: %v", s.name, err)
			continue
		}
		if snap == nil {
			log.Printf("[restorer] no %s snapshot found", s.name)
			continue
		}
		if r.RestoreFromSnap(b, snap) {
			return s.name
		}
	}
	log.Println("[restorer] no usable snapshot, cold starting trend book")
	return "cold"
}

// RestoreFromSnap restores snap into b and reports whether it was accepted.
func (r *Restorer) RestoreFromSnap(b *Book, snap *BookSnapshot) bool {
	log.Printf("[restorer] restoring from snapshot (version=%d, checkpoint=%s, trackers=%d)",
		snap.Version, snap.Checkpoint.Format(time.RFC3339), len(snap.Trackers))

	restored, cold, err := RestoreBook(b, snap)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v, falling back", err)
		return false
	}
	log.Printf("[restorer] ✅ restored %d trackers (%d cold)", restored, cold)
	return true
}

// Replay feeds stored candles newer than each tracker's last candle into b.
// Symbols without a tracker start from the beginning of history.
// Returns the number of candles replayed.
func (r *Restorer) Replay(b *Book, symbols []string) (int, error) {
	if r.reader == nil {
		return 0, nil
	}
	total := 0
	for _, sym := range symbols {
		var after time.Time
		if t, ok := b.Get(sym); ok {
			after = t.LastAt()
		}
		candles, err := r.reader.ReadCandles(sym, after)
		if err != nil {
			return total, fmt.Errorf("read candles %s: %w", sym, err)
		}
		for _, c := range candles {
			if err := b.Process(c); err != nil {
				return total, fmt.Errorf("replay %s at %s: %w", sym, c.TS.Format(time.RFC3339), err)
			}
			total++
		}
		if len(candles) > 0 {
			log.Printf("[restorer] replayed %d candles for %s", len(candles), sym)
		}
	}
	return total, nil
}
