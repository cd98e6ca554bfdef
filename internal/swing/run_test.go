package swing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BindsSymbol(t *testing.T) {
	tr := newTracker(t, Config{})
	require.NoError(t, tr.Run("RELIANCE", makeCandles("RELIANCE", upThenReversal), false))

	assert.Equal(t, "RELIANCE", tr.Symbol())
	assert.Equal(t, Down, tr.Trend())
	assert.Empty(t, tr.Events(), "events are only kept when asked for")

	segs, colors := tr.PlotLines()
	assert.Nil(t, segs)
	assert.Nil(t, colors)
}

func TestRun_EventLog(t *testing.T) {
	tr := newTracker(t, Config{})
	require.NoError(t, tr.Run("NIFTY", makeCandles("NIFTY", upThenReversal[:8]), true))

	want := []struct {
		kind  EventKind
		at    int
		level float64
		trend Trend
	}{
		{EventSwingLow, 2, 90, Undetermined},
		{EventSwingHigh, 3, 108, Undetermined},
		{EventSwingLow, 4, 92, Undetermined},
		{EventChangeOfCharacter, 4, 92, Up},
		{EventTrendStart, 4, 92, Up},
		{EventSwingHigh, 5, 112, Up},
		{EventSwingLow, 6, 99, Up},
		{EventChangeOfCharacter, 6, 99, Up},
		{EventBreakout, 6, 112, Up},
		{EventSwingHigh, 7, 120, Up},
		{EventChangeOfCharacter, 8, 120, Down},
		{EventReversal, 8, 99, Down},
	}

	events := tr.Events()
	require.Len(t, events, len(want))
	for i, w := range want {
		e := events[i]
		assert.Equal(t, w.kind, e.Kind, "event %d", i)
		assert.True(t, e.At.Equal(bar(w.at)), "event %d at %s, want bar %d", i, e.At, w.at)
		assert.Equal(t, w.level, e.Level, "event %d", i)
		assert.Equal(t, w.trend, e.Trend, "event %d", i)
	}
}

func TestPlotLines(t *testing.T) {
	tr := newTracker(t, Config{})
	require.NoError(t, tr.Run("NIFTY", makeCandles("NIFTY", upThenReversal[:8]), true))

	segs, colors := tr.PlotLines()
	require.Len(t, segs, len(colors))
	assert.Equal(t, []Color{
		ColorSwingLow, ColorSwingHigh, ColorSwingLow, ColorUp,
		ColorSwingHigh, ColorSwingLow, ColorUp, ColorSwingHigh, ColorDown,
	}, colors)

	// Swing low 90 set on bar 1, confirmed on bar 2.
	first := segs[0]
	assert.True(t, first[0].At.Equal(bar(1)))
	assert.True(t, first[1].At.Equal(bar(2)))
	assert.Equal(t, 90.0, first[0].Price)
	assert.Equal(t, 90.0, first[1].Price)

	// CoC lines run 15 bars right, clipped to the last bar.
	coc := segs[3]
	assert.True(t, coc[0].At.Equal(bar(3)))
	assert.True(t, coc[1].At.Equal(bar(8)))
	assert.Equal(t, 92.0, coc[1].Price)

	last := segs[len(segs)-1]
	assert.Equal(t, 120.0, last[0].Price)
	assert.True(t, last[0].At.Equal(bar(6)))
}

func TestPlotLines_LongSeriesExtendsFifteenBars(t *testing.T) {
	rows := append([]ohlc(nil), upThenReversal[:4]...)
	// Drift sideways long enough for the CoC line to end inside the series.
	for i := 0; i < 30; i++ {
		rows = append(rows, ohlc{111, 109, 110})
	}
	tr := newTracker(t, Config{})
	require.NoError(t, tr.Run("NIFTY", makeCandles("NIFTY", rows), true))

	segs, colors := tr.PlotLines()
	var found bool
	for i, c := range colors {
		if c == ColorUp {
			found = true
			assert.True(t, segs[i][0].At.Equal(bar(3)))
			assert.True(t, segs[i][1].At.Equal(bar(18)), "got %s", segs[i][1].At)
		}
	}
	assert.True(t, found, "no CoC segment")
}

func TestRecordEvents_WithoutPlot(t *testing.T) {
	tr := newTracker(t, Config{RecordEvents: true})
	feed(t, tr, upThenReversal, 1)
	assert.NotEmpty(t, tr.Events())

	segs, colors := tr.PlotLines()
	assert.Equal(t, len(segs), len(colors))
	assert.NotEmpty(t, segs)
}

func TestRun_Series(t *testing.T) {
	tr := newTracker(t, Config{RecordSeries: true})
	require.NoError(t, tr.Run("NIFTY", makeCandles("NIFTY", upThenReversal[:8]), false))

	want := []Trend{Undetermined, Undetermined, Undetermined, Up, Up, Up, Up, Down}
	series := tr.Series()
	require.Len(t, series, len(want))
	for i, b := range series {
		assert.True(t, b.At.Equal(bar(i+1)), "bar %d at %s", i+1, b.At)
		assert.Equal(t, want[i], b.Trend, "bar %d", i+1)
	}
	assert.Empty(t, tr.Events(), "series alone does not keep the event log")

	data, err := tr.Pack()
	require.NoError(t, err)
	restored := newTracker(t, Config{RecordSeries: true})
	require.NoError(t, restored.Unpack(data))
	assert.Equal(t, series, restored.Series())

	tr.Reset()
	assert.Empty(t, tr.Series())
}

func TestRun_SeriesOff(t *testing.T) {
	tr := newTracker(t, Config{RecordEvents: true})
	require.NoError(t, tr.Run("NIFTY", makeCandles("NIFTY", upThenReversal), true))
	assert.Empty(t, tr.Series())
}

func TestRecordWindow_BoundsRecording(t *testing.T) {
	tr := newTracker(t, Config{RecordEvents: true, RecordSeries: true, RecordWindow: 5})
	unbounded := newTracker(t, Config{RecordEvents: true})
	feed(t, tr, upThenReversal, 1)
	feed(t, unbounded, upThenReversal, 1)

	snap := tr.Snapshot()
	require.Len(t, snap.Bars, 6)
	assert.True(t, snap.Bars[0].Equal(bar(6)))
	require.Len(t, snap.Series, 6)
	assert.True(t, snap.Series[0].At.Equal(bar(6)))
	assert.Equal(t, Down, snap.Series[5].Trend)

	events := tr.Events()
	require.NotEmpty(t, events)
	assert.Less(t, len(events), len(unbounded.Events()))
	for _, e := range events {
		assert.False(t, e.At.Before(bar(6)), "event %s at %s outlived the window", e.Kind, e.At)
	}

	segs, colors := tr.PlotLines()
	assert.NotEmpty(t, segs)
	assert.Equal(t, len(segs), len(colors))

	// Trimming never touches the decision state.
	assert.Equal(t, unbounded.State(), tr.State())
}
