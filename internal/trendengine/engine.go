// Package trendengine runs the swing trend book as a live service: candles in,
// trend state and breakout/reversal events out.
package trendengine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"swingtrend/internal/logger"
	"swingtrend/internal/metrics"
	"swingtrend/internal/model"
	"swingtrend/internal/swing"
)

// Publisher receives the live trend view. *redis.BufferedPublisher implements it.
type Publisher interface {
	WriteState(st model.TrendState) error
	PublishEvent(ev model.TrendEvent) error
}

// EventJournal reads stored breakouts and reversals. *sqlite.Reader implements it.
type EventJournal interface {
	ReadEvents(symbol string, limit int) ([]model.TrendEvent, error)
}

// Engine owns the book. Candles are processed one at a time under the write
// lock; HTTP and checkpoint readers take the read lock.
type Engine struct {
	mu      sync.RWMutex
	book    *swing.Book
	pending []model.TrendEvent

	pub    Publisher
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	log    *slog.Logger

	candleSinks []chan<- model.Candle
	eventSinks  []chan<- model.TrendEvent
	journal     EventJournal

	now func() time.Time
}

// NewEngine wraps book. pub, prom and health may be nil.
func NewEngine(book *swing.Book, pub Publisher, prom *metrics.Metrics, health *metrics.HealthStatus) *Engine {
	return &Engine{
		book:   book,
		pub:    pub,
		prom:   prom,
		health: health,
		log:    slog.Default(),
		now:    time.Now,
	}
}

// AddCandleSink forwards every accepted candle to ch (never blocks).
func (e *Engine) AddCandleSink(ch chan<- model.Candle) {
	e.candleSinks = append(e.candleSinks, ch)
}

// AddEventSink forwards every breakout and reversal to ch (never blocks).
func (e *Engine) AddEventSink(ch chan<- model.TrendEvent) {
	e.eventSinks = append(e.eventSinks, ch)
}

// SetJournal backs GET /trends/{symbol}/events.
func (e *Engine) SetJournal(j EventJournal) {
	e.journal = j
}

// Arm installs the breakout and reversal handlers. Call it after restore and
// replay so history does not re-publish old events.
func (e *Engine) Arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.book.OnBreakout(e.collect(model.EventBreakout))
	e.book.OnReversal(e.collect(model.EventReversal))
}

// collect queues the event; it is published once the lock is released.
func (e *Engine) collect(typ model.EventType) swing.Handler {
	return func(t *swing.Tracker, at time.Time, close, level float64) error {
		e.pending = append(e.pending, model.TrendEvent{
			Type:   typ,
			Symbol: t.Symbol(),
			TS:     at,
			Trend:  t.Trend().String(),
			Close:  close,
			Level:  level,
			CoC:    t.CoC().Price,
			Stable: t.IsTrendStable(),
		})
		return nil
	}
}

// Process feeds one candle through the book and publishes the outcome.
func (e *Engine) Process(ctx context.Context, c model.Candle) error {
	ctx = logger.WithTraceID(ctx, logger.CandleTraceID(c.Symbol, c.TS))

	e.mu.Lock()
	start := time.Now()
	err := e.book.Process(c)
	elapsed := time.Since(start)
	events := e.pending
	e.pending = nil
	var st model.TrendState
	t, ok := e.book.Get(c.Symbol)
	if ok {
		st = StateOf(t)
	}
	trackers := e.book.Len()
	e.mu.Unlock()

	if e.prom != nil {
		e.prom.IdentifyDur.Observe(elapsed.Seconds())
		e.prom.Trackers.Set(float64(trackers))
	}
	if e.health != nil {
		e.health.SetTrackers(trackers)
	}

	if err != nil {
		reason := rejectReason(err)
		if e.prom != nil {
			e.prom.RejectedCandles.WithLabelValues(reason).Inc()
		}
		e.log.WarnContext(ctx, "candle rejected",
			append(logger.TraceAttrs(ctx), "symbol", c.Symbol, "reason", reason, "err", err)...)
		return err
	}

	if e.prom != nil {
		e.prom.CandlesTotal.WithLabelValues(c.Symbol).Inc()
		e.prom.CandleLag.Set(e.now().Sub(c.TS).Seconds())
		e.prom.ObserveState(st)
	}
	if e.health != nil {
		e.health.SetLastCandleTime(c.TS)
	}
	for _, ch := range e.candleSinks {
		select {
		case ch <- c:
		default:
			log.Printf("[trendengine] candle sink full, dropping %s@%s", c.Symbol, c.TS.Format(time.RFC3339))
		}
	}

	for _, ev := range events {
		e.emit(ctx, ev)
	}

	if e.pub != nil {
		if err := e.pub.WriteState(st); err != nil {
			log.Printf("[trendengine] state publish %s: %v", c.Symbol, err)
		}
	}
	return nil
}

func (e *Engine) emit(ctx context.Context, ev model.TrendEvent) {
	e.log.InfoContext(ctx, "trend event",
		append(logger.TraceAttrs(ctx),
			"type", ev.Type, "symbol", ev.Symbol, "trend", ev.Trend,
			"close", ev.Close, "level", ev.Level, "coc", ev.CoC, "stable", ev.Stable)...)

	if e.prom != nil {
		e.prom.ObserveEvent(ev)
	}
	if e.pub != nil {
		if err := e.pub.PublishEvent(ev); err != nil {
			log.Printf("[trendengine] event publish %s: %v", ev.Symbol, err)
		}
	}
	for _, ch := range e.eventSinks {
		select {
		case ch <- ev:
		default:
			log.Printf("[trendengine] event sink full, dropping %s %s", ev.Symbol, ev.Type)
		}
	}
}

// Run processes candles from in until ctx is cancelled or in is closed.
// Rejected candles are logged and skipped.
func (e *Engine) Run(ctx context.Context, in <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-in:
			if !ok {
				return
			}
			e.Process(ctx, c)
		}
	}
}

func rejectReason(err error) string {
	var seq *swing.SequenceError
	var bad *swing.InvalidCandleError
	switch {
	case errors.As(err, &seq):
		return "sequence"
	case errors.As(err, &bad):
		return "invalid"
	default:
		return "other"
	}
}

// Snapshot captures the whole book for a checkpoint.
func (e *Engine) Snapshot() *swing.BookSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return swing.SnapshotBook(e.book, e.now())
}

// States returns the trend view of every tracked symbol, sorted by symbol.
func (e *Engine) States() []model.TrendState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	syms := e.book.Symbols()
	out := make([]model.TrendState, 0, len(syms))
	for _, s := range syms {
		t, _ := e.book.Get(s)
		out = append(out, StateOf(t))
	}
	return out
}

// State returns the trend view of one symbol.
func (e *Engine) State(symbol string) (model.TrendState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.book.Get(symbol)
	if !ok {
		return model.TrendState{}, false
	}
	return StateOf(t), true
}

// Plot is the chart geometry of one symbol.
type Plot struct {
	Symbol   string          `json:"symbol"`
	Segments []swing.Segment `json:"segments"`
	Colors   []swing.Color   `json:"colors"`
}

// Plot returns the plot lines of symbol. ok is false when the symbol is
// unknown or nothing was recorded for it.
func (e *Engine) Plot(symbol string) (Plot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.book.Get(symbol)
	if !ok {
		return Plot{}, false
	}
	segs, colors := t.PlotLines()
	if segs == nil {
		return Plot{}, false
	}
	return Plot{Symbol: symbol, Segments: segs, Colors: colors}, true
}

// StateOf builds the published view of a tracker.
func StateOf(t *swing.Tracker) model.TrendState {
	return model.TrendState{
		Symbol:      t.Symbol(),
		Trend:       t.Trend().String(),
		SPH:         price(t.SPH()),
		SPL:         price(t.SPL()),
		CoC:         price(t.CoC()),
		CandleCount: t.CandleCount(),
		BarsSince:   t.BarsSince(),
		Sideways:    t.IsSideways(),
		RangeBound:  t.IsRangeBound(),
		Stable:      t.IsTrendStable(),
		LastTS:      t.LastAt(),
	}
}

func price(l swing.Level) *float64 {
	if !l.Valid {
		return nil
	}
	p := l.Price
	return &p
}
