package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/model"
	"swingtrend/internal/swing"
)

var base = time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)

func openStore(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	r, err := NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func candle(symbol string, i int, h, l, c float64) model.Candle {
	return model.Candle{
		Symbol: symbol,
		TS:     base.Add(time.Duration(i) * time.Minute),
		Open:   c,
		High:   h,
		Low:    l,
		Close:  c,
		Volume: 10,
	}
}

func TestCandles_InsertAndReadAfter(t *testing.T) {
	w, r := openStore(t)

	var commits int
	w.OnCommit = func(n int, _ time.Duration) { commits += n }

	require.NoError(t, w.InsertCandles([]model.Candle{
		candle("NIFTY", 2, 102, 100, 101),
		candle("NIFTY", 1, 101, 99, 100),
		candle("TCS", 1, 3500, 3490, 3495),
		candle("NIFTY", 3, 103, 101, 102.5),
	}))
	assert.Equal(t, 4, commits)

	all, err := r.ReadCandles("NIFTY", time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].TS.Equal(base.Add(time.Minute)), "ordered by ts")
	assert.Equal(t, 102.5, all[2].Close)

	after, err := r.ReadCandles("NIFTY", base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 103.0, after[0].High)

	syms, err := r.ReadSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"NIFTY", "TCS"}, syms)
}

func TestCandles_UpsertSameTimestamp(t *testing.T) {
	w, r := openStore(t)
	require.NoError(t, w.InsertCandles([]model.Candle{candle("NIFTY", 1, 101, 99, 100)}))
	require.NoError(t, w.InsertCandles([]model.Candle{candle("NIFTY", 1, 105, 99, 104)}))

	got, err := r.ReadCandles("NIFTY", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 104.0, got[0].Close)
}

func TestRun_FlushesOnClose(t *testing.T) {
	w, r := openStore(t)
	ch := make(chan model.Candle, 10)
	for i := 1; i <= 5; i++ {
		ch <- candle("NIFTY", i, 101, 99, 100)
	}
	close(ch)
	w.Run(context.Background(), ch)

	got, err := r.ReadCandles("NIFTY", time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestSnapshots_LatestAndPrune(t *testing.T) {
	w, r := openStore(t)

	empty, err := r.ReadLatestSnapshot()
	require.NoError(t, err)
	assert.Nil(t, empty)

	book, err := swing.NewBook(swing.Config{})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		require.NoError(t, book.Process(candle("NIFTY", i, 101+float64(i), 99, 100)))
	}

	for i := 0; i < 12; i++ {
		require.NoError(t, w.SaveSnapshot(swing.SnapshotBook(book, base.Add(time.Duration(i)*time.Hour))))
	}

	var n int
	require.NoError(t, w.DB().QueryRow(`SELECT COUNT(*) FROM tracker_snapshots`).Scan(&n))
	assert.Equal(t, snapshotsKept, n)

	snap, err := r.ReadBookSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Checkpoint.Equal(base.Add(11*time.Hour)))
	require.Len(t, snap.Trackers, 1)
	assert.Equal(t, 3, snap.Trackers[0].CandleCount)

	restored, err := swing.NewBook(swing.Config{})
	require.NoError(t, err)
	ok, cold, err := swing.RestoreBook(restored, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, cold)
}

func TestEvents_Journal(t *testing.T) {
	w, r := openStore(t)
	for i, typ := range []model.EventType{model.EventBreakout, model.EventBreakout, model.EventReversal} {
		require.NoError(t, w.WriteEvent(model.TrendEvent{
			Type:   typ,
			Symbol: "NIFTY",
			TS:     base.Add(time.Duration(i) * time.Minute),
			Trend:  "UP",
			Close:  100 + float64(i),
			Level:  99,
			CoC:    95,
			Stable: i > 0,
		}))
	}

	evs, err := r.ReadEvents("NIFTY", 2)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.EventBreakout, evs[0].Type)
	assert.Equal(t, model.EventReversal, evs[1].Type)
	assert.True(t, evs[1].Stable)
	assert.Equal(t, 95.0, evs[1].CoC)
	assert.True(t, evs[1].TS.Equal(base.Add(2*time.Minute)))
}
