package swing

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sameState(t *testing.T, a, b State) {
	t.Helper()
	assert.Equal(t, a.Trend, b.Trend, "trend")
	assert.Equal(t, a.Seeking, b.Seeking, "seeking")
	assert.Equal(t, a.CandleCount, b.CandleCount, "candle count")
	assert.Equal(t, a.BarsSince, b.BarsSince, "bars since")
	assert.True(t, a.LastAt.Equal(b.LastAt), "last at")
	pairs := map[string][2]Level{
		"high": {a.High, b.High}, "low": {a.Low, b.Low},
		"sph": {a.SPH, b.SPH}, "spl": {a.SPL, b.SPL}, "coc": {a.CoC, b.CoC},
		"swing_high": {a.SwingHigh, b.SwingHigh}, "swing_low": {a.SwingLow, b.SwingLow},
		"prior_high": {a.PriorHigh, b.PriorHigh}, "prior_low": {a.PriorLow, b.PriorLow},
	}
	for name, p := range pairs {
		assert.True(t, sameLevel(p[0], p[1]), "%s: %v vs %v", name, p[0], p[1])
	}
}

func TestPack_RoundTripContinuesIdentically(t *testing.T) {
	for cut := 0; cut <= len(upThenReversal); cut++ {
		orig := newTracker(t, Config{RecordEvents: true})
		orig.SetSymbol("NIFTY")
		feed(t, orig, upThenReversal[:cut], 1)

		data, err := orig.Pack()
		require.NoError(t, err)

		restored := newTracker(t, Config{RecordEvents: true})
		require.NoError(t, restored.Unpack(data), "cut %d", cut)
		assert.Equal(t, "NIFTY", restored.Symbol())
		sameState(t, orig.State(), restored.State())

		var a, b []signal
		recordSignals(orig, &a)
		recordSignals(restored, &b)
		rest := upThenReversal[cut:]
		feed(t, orig, rest, cut+1)
		feed(t, restored, rest, cut+1)

		sameState(t, orig.State(), restored.State())
		assert.Equal(t, len(a), len(b), "cut %d", cut)
		for i := range a {
			assert.Equal(t, a[i].kind, b[i].kind)
			assert.Equal(t, a[i].level, b[i].level)
		}
		assert.Equal(t, len(orig.Events()), len(restored.Events()), "cut %d", cut)
	}
}

func TestPack_IsVersionedJSON(t *testing.T) {
	tr := newTracker(t, Config{})
	feed(t, tr, upThenReversal[:5], 1)
	data, err := tr.Pack()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, SnapshotVersion, raw["version"])
	assert.Equal(t, "UP", raw["trend"])
	assert.Nil(t, raw["spl"])
	assert.NotNil(t, raw["sph"])
}

func TestUnpack_RejectsWithoutMutation(t *testing.T) {
	src := newTracker(t, Config{})
	feed(t, src, upThenReversal[:7], 1)
	good := src.Snapshot()

	tests := []struct {
		name   string
		mutate func(s *Snapshot)
	}{
		{"version", func(s *Snapshot) { s.Version = 2 }},
		{"retrace mismatch", func(s *Snapshot) { s.RetracePct = 3 }},
		{"unknown trend", func(s *Snapshot) { s.Trend = Trend(7) }},
		{"unknown side", func(s *Snapshot) { s.Seeking = Side(9) }},
		{"spl live in uptrend", func(s *Snapshot) { s.SPL = &LevelSnapshot{Price: 90, At: bar(1)} }},
		{"negative count", func(s *Snapshot) { s.CandleCount = -1 }},
		{"bars since beyond count", func(s *Snapshot) { s.BarsSince = 100 }},
		{"non-positive level", func(s *Snapshot) { s.CoC = &LevelSnapshot{Price: 0, At: bar(1)} }},
		{"missing running high", func(s *Snapshot) { s.High = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := good
			tt.mutate(&snap)
			data, err := json.Marshal(snap)
			if err != nil {
				// Unknown trends cannot be marshaled as text; go through Restore.
				data = nil
			}

			dst := newTracker(t, Config{})
			feed(t, dst, upThenReversal[:3], 1)
			before := dst.State()

			if data != nil {
				err = dst.Unpack(data)
			} else {
				err = dst.Restore(snap)
			}
			var sfe *SnapshotFormatError
			require.True(t, errors.As(err, &sfe), "err = %v", err)
			assert.Equal(t, before, dst.State())
		})
	}
}

func TestUnpack_Malformed(t *testing.T) {
	tr := newTracker(t, Config{})
	for _, in := range []string{"", "{", `{"version":1,"trend":"SIDEWAYS"}`, `[]`} {
		err := tr.Unpack([]byte(in))
		var sfe *SnapshotFormatError
		require.True(t, errors.As(err, &sfe), "input %q: err = %v", in, err)
	}
	assert.Equal(t, State{}, tr.State())
}

func TestUnpack_KeepsHandlers(t *testing.T) {
	src := newTracker(t, Config{})
	feed(t, src, upThenReversal[:5], 1)
	data, err := src.Pack()
	require.NoError(t, err)

	dst := newTracker(t, Config{})
	var got []signal
	recordSignals(dst, &got)
	require.NoError(t, dst.Unpack(data))
	feed(t, dst, upThenReversal[5:6], 6)

	require.Len(t, got, 1)
	assert.Equal(t, "breakout", got[0].kind)
	assert.Equal(t, 112.0, got[0].level)
}

func TestUnpack_EmptyTracker(t *testing.T) {
	src := newTracker(t, Config{})
	data, err := src.Pack()
	require.NoError(t, err)

	dst := newTracker(t, Config{})
	feed(t, dst, upThenReversal[:4], 1)
	require.NoError(t, dst.Unpack(data))
	assert.Equal(t, State{}, dst.State())
}
