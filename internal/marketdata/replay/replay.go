// Package replay plays stored candles back through a channel, optionally at a
// scaled real-time pace, so a live service can be driven from history.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"swingtrend/internal/model"
)

// maxGap caps a single simulated pause.
const maxGap = 5 * time.Second

// Source reads stored candles of one symbol strictly after a time.
// *sqlite.Reader implements it.
type Source interface {
	ReadCandles(symbol string, after time.Time) ([]model.Candle, error)
}

// Replayer emits historical candles in time order across symbols.
type Replayer struct {
	src Source
}

// New creates a Replayer backed by src.
func New(src Source) *Replayer {
	return &Replayer{src: src}
}

// Run replays the candles of symbols after from into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, symbols []string, from time.Time, speed float64, outCh chan<- model.Candle) (int, error) {
	var all []model.Candle
	for _, sym := range symbols {
		candles, err := r.src.ReadCandles(sym, from)
		if err != nil {
			return 0, err
		}
		all = append(all, candles...)
	}

	if len(all) == 0 {
		log.Println("[replay] no candles found")
		return 0, nil
	}

	// Per-symbol order is preserved for equal timestamps.
	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })

	log.Printf("[replay] loaded %d candles across %d symbols, speed=%.1fx", len(all), len(symbols), speed)

	var prevTS time.Time
	emitted := 0
	for _, c := range all {
		if speed > 0 && !prevTS.IsZero() {
			if gap := c.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = c.TS

		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return emitted, ctx.Err()
		case outCh <- c:
			emitted++
		}
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return emitted, nil
}
