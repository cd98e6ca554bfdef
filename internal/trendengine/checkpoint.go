package trendengine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"swingtrend/internal/metrics"
	"swingtrend/internal/swing"
)

// SnapshotSink persists book checkpoints.
type SnapshotSink interface {
	WriteBookSnapshot(ctx context.Context, snap *swing.BookSnapshot) error
}

// SnapshotSinkFunc adapts a function to SnapshotSink.
type SnapshotSinkFunc func(ctx context.Context, snap *swing.BookSnapshot) error

func (f SnapshotSinkFunc) WriteBookSnapshot(ctx context.Context, snap *swing.BookSnapshot) error {
	return f(ctx, snap)
}

type namedSink struct {
	name string
	sink SnapshotSink
}

// Checkpointer periodically writes the book to every registered store.
type Checkpointer struct {
	engine *Engine
	sinks  []namedSink
	prom   *metrics.Metrics
	cron   *cron.Cron
}

// NewCheckpointer creates a checkpointer for engine. prom may be nil.
func NewCheckpointer(engine *Engine, prom *metrics.Metrics) *Checkpointer {
	return &Checkpointer{
		engine: engine,
		prom:   prom,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// AddSink registers a store under a name used in logs and metrics.
func (c *Checkpointer) AddSink(name string, s SnapshotSink) *Checkpointer {
	c.sinks = append(c.sinks, namedSink{name: name, sink: s})
	return c
}

// Start schedules a checkpoint every interval.
func (c *Checkpointer) Start(ctx context.Context, every time.Duration) error {
	spec := fmt.Sprintf("@every %s", every)
	if _, err := c.cron.AddFunc(spec, func() { c.Save(ctx) }); err != nil {
		return fmt.Errorf("schedule checkpoint %q: %w", spec, err)
	}
	c.cron.Start()
	log.Printf("[checkpoint] scheduled %s", spec)
	return nil
}

// Stop waits for a running checkpoint to finish.
func (c *Checkpointer) Stop() {
	<-c.cron.Stop().Done()
}

// Save writes one checkpoint to every sink and returns how many succeeded.
func (c *Checkpointer) Save(ctx context.Context) int {
	snap := c.engine.Snapshot()
	ok := 0
	for _, s := range c.sinks {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.sink.WriteBookSnapshot(wctx, snap)
		cancel()

		result := "ok"
		if err != nil {
			result = "error"
			log.Printf("[checkpoint] %s snapshot write error: %v", s.name, err)
		} else {
			ok++
		}
		if c.prom != nil {
			c.prom.SnapshotsTotal.WithLabelValues(s.name, result).Inc()
		}
	}
	log.Printf("[checkpoint] ✅ saved %d trackers to %d/%d stores", len(snap.Trackers), ok, len(c.sinks))
	return ok
}
