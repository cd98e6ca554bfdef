package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"swingtrend/internal/model"
)

type channel struct {
	name string
	n    Notifier
}

// Dispatcher fans trend events out to every registered notifier, throttled
// per symbol so a choppy instrument cannot flood the channels.
type Dispatcher struct {
	channels []channel
	every    time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// Callbacks (optional, for metrics)
	OnSent      func(channel string)
	OnThrottled func()
}

// NewDispatcher allows burst alerts per symbol, refilling one every interval.
// A zero interval disables throttling.
func NewDispatcher(every time.Duration, burst int) *Dispatcher {
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{
		every:    every,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Add registers a notifier under a channel name used in logs and metrics.
func (d *Dispatcher) Add(name string, n Notifier) {
	d.channels = append(d.channels, channel{name: name, n: n})
}

// Len returns the number of registered channels.
func (d *Dispatcher) Len() int { return len(d.channels) }

func (d *Dispatcher) allow(symbol string) bool {
	if d.every <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.every), d.burst)
		d.limiters[symbol] = lim
	}
	return lim.Allow()
}

// Notify sends ev to all channels. It returns false when the alert was
// throttled. Delivery errors of individual channels are joined.
func (d *Dispatcher) Notify(ctx context.Context, ev model.TrendEvent) (bool, error) {
	if !d.allow(ev.Symbol) {
		if d.OnThrottled != nil {
			d.OnThrottled()
		}
		return false, nil
	}

	alert := AlertFromEvent(ev)
	var errs []error
	for _, c := range d.channels {
		if err := c.n.Send(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		if d.OnSent != nil {
			d.OnSent(c.name)
		}
	}
	return true, errors.Join(errs...)
}

// Run reads events and dispatches them until ctx is cancelled or events is closed.
func (d *Dispatcher) Run(ctx context.Context, events <-chan model.TrendEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if _, err := d.Notify(sendCtx, ev); err != nil {
				log.Printf("[notify] %s %s: %v", ev.Symbol, ev.Type, err)
			}
			cancel()
		}
	}
}
