package redis

import (
	"context"
	"log"
	"sort"
	"sync"

	"swingtrend/internal/model"
)

const defaultMaxPending = 10000

// Sink is where the publisher forwards state and events. *Store implements it.
type Sink interface {
	WriteState(ctx context.Context, st model.TrendState) error
	PublishEvent(ctx context.Context, ev model.TrendEvent) error
}

// BufferedPublisher routes writes through a Breaker. While the breaker is
// open, events are queued and only the latest state per symbol is kept.
// Every later write drains the queue first, oldest event first, so Redis
// never sees a buffered write land after a newer one.
type BufferedPublisher struct {
	sink Sink
	cb   *Breaker
	ctx  context.Context

	// mu serializes publishing; it is held across sink calls.
	mu      sync.Mutex
	events  []model.TrendEvent
	states  map[string]model.TrendState
	maxPend int

	// OnBuffer is called with the queue length whenever a write is queued.
	OnBuffer func(pending int)
	// OnFlush is called after a drain that replayed anything, with the
	// writes replayed and the writes still queued.
	OnFlush func(flushed, pending int)
}

// NewBufferedPublisher wraps sink with cb. maxPending caps the event queue;
// the oldest events are dropped beyond it.
func NewBufferedPublisher(ctx context.Context, sink Sink, cb *Breaker, maxPending int) *BufferedPublisher {
	if maxPending <= 0 {
		maxPending = defaultMaxPending
	}
	return &BufferedPublisher{
		sink:    sink,
		cb:      cb,
		ctx:     ctx,
		states:  make(map[string]model.TrendState),
		maxPend: maxPending,
	}
}

// WriteState publishes st, or keeps it for later while the breaker is open.
// With writes already queued, st replaces any queued state of its symbol
// and the queue is drained.
func (bp *BufferedPublisher) WriteState(st model.TrendState) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.pendingLocked() > 0 {
		bp.states[st.Symbol] = st
		bp.buffered()
		bp.drainLocked()
		return nil
	}
	err := bp.cb.Do(func() error { return bp.sink.WriteState(bp.ctx, st) })
	if err == ErrBreakerOpen {
		bp.states[st.Symbol] = st
		bp.buffered()
		return nil
	}
	return err
}

// PublishEvent publishes ev, or queues it while the breaker is open.
// With writes already queued, ev joins the back of the queue and the queue
// is drained.
func (bp *BufferedPublisher) PublishEvent(ev model.TrendEvent) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.pendingLocked() > 0 {
		bp.queueEvent(ev)
		bp.drainLocked()
		return nil
	}
	err := bp.cb.Do(func() error { return bp.sink.PublishEvent(bp.ctx, ev) })
	if err == ErrBreakerOpen {
		bp.queueEvent(ev)
		return nil
	}
	return err
}

// Pending returns the number of queued writes.
func (bp *BufferedPublisher) Pending() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.pendingLocked()
}

// Flush drains the queue without a new write, e.g. before shutdown.
// It stops early if the breaker is still open.
func (bp *BufferedPublisher) Flush() {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.drainLocked()
}

// drainLocked replays events in order, then the latest states by symbol.
// Each write goes through the breaker, so the first one doubles as the
// half-open probe; the first failure leaves it and everything after it
// queued.
func (bp *BufferedPublisher) drainLocked() {
	if bp.pendingLocked() == 0 {
		return
	}

	flushed := 0
	defer func() {
		if flushed == 0 {
			return
		}
		log.Printf("[redis-publisher] flushed %d buffered writes, %d still queued", flushed, bp.pendingLocked())
		if bp.OnFlush != nil {
			bp.OnFlush(flushed, bp.pendingLocked())
		}
	}()

	for len(bp.events) > 0 {
		ev := bp.events[0]
		if err := bp.cb.Do(func() error { return bp.sink.PublishEvent(bp.ctx, ev) }); err != nil {
			if err != ErrBreakerOpen {
				log.Printf("[redis-publisher] flush event %s: %v", ev.Symbol, err)
			}
			return
		}
		bp.events = bp.events[1:]
		flushed++
	}
	if len(bp.events) == 0 {
		bp.events = nil
	}

	symbols := make([]string, 0, len(bp.states))
	for sym := range bp.states {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		st := bp.states[sym]
		if err := bp.cb.Do(func() error { return bp.sink.WriteState(bp.ctx, st) }); err != nil {
			if err != ErrBreakerOpen {
				log.Printf("[redis-publisher] flush state %s: %v", sym, err)
			}
			return
		}
		delete(bp.states, sym)
		flushed++
	}
}

func (bp *BufferedPublisher) queueEvent(ev model.TrendEvent) {
	if len(bp.events) >= bp.maxPend {
		bp.events = bp.events[1:]
	}
	bp.events = append(bp.events, ev)
	bp.buffered()
}

func (bp *BufferedPublisher) pendingLocked() int {
	return len(bp.events) + len(bp.states)
}

func (bp *BufferedPublisher) buffered() {
	if bp.OnBuffer != nil {
		bp.OnBuffer(bp.pendingLocked())
	}
}
