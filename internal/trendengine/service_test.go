package trendengine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/marketdata/bus"
	"swingtrend/internal/metrics"
)

func TestBusMetrics(t *testing.T) {
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	fo := bus.New[int]("candles", 2)
	_ = fo.Subscribe() // never read
	fast := fo.Subscribe()
	fo.OnDrop = busDropCounter(prom, fo.Name())

	in := make(chan int)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), in)
		close(done)
	}()
	for i := 0; i < 4; i++ {
		in <- i
		<-fast
	}

	observeBus(prom, fo)
	// Subscribers are served in order, so the slow one has been handled by
	// the time the fast one receives.
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.BusDepth.WithLabelValues("candles", "0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.BusDepth.WithLabelValues("candles", "1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.BusDrops.WithLabelValues("candles", "0")))
	assert.Equal(t, 0.0, testutil.ToFloat64(prom.BusDrops.WithLabelValues("candles", "1")))

	close(in)
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "fan-out did not stop")
	}
}
