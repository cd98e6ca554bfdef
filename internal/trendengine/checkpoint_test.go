package trendengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/swing"
)

func TestCheckpointer_SaveToAllSinks(t *testing.T) {
	e, _, prom := newEngine(t, swing.Config{})
	ctx := context.Background()
	for _, c := range upThenReversal("NIFTY")[:4] {
		require.NoError(t, e.Process(ctx, c))
	}

	var got *swing.BookSnapshot
	cp := NewCheckpointer(e, prom).
		AddSink("redis", SnapshotSinkFunc(func(context.Context, *swing.BookSnapshot) error {
			return errors.New("connection refused")
		})).
		AddSink("sqlite", SnapshotSinkFunc(func(_ context.Context, snap *swing.BookSnapshot) error {
			got = snap
			return nil
		}))

	assert.Equal(t, 1, cp.Save(ctx))
	require.NotNil(t, got)
	require.Len(t, got.Trackers, 1)
	assert.Equal(t, 4, got.Trackers[0].CandleCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.SnapshotsTotal.WithLabelValues("sqlite", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.SnapshotsTotal.WithLabelValues("redis", "error")))
}

func TestCheckpointer_Schedule(t *testing.T) {
	e, _, _ := newEngine(t, swing.Config{})

	var mu sync.Mutex
	saves := 0
	cp := NewCheckpointer(e, nil).AddSink("mem", SnapshotSinkFunc(func(context.Context, *swing.BookSnapshot) error {
		mu.Lock()
		saves++
		mu.Unlock()
		return nil
	}))

	require.NoError(t, cp.Start(context.Background(), time.Second))
	defer cp.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return saves >= 1
	}, 3*time.Second, 20*time.Millisecond)
}
