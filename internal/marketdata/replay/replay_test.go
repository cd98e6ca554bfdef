package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/model"
)

var base = time.Date(2024, 5, 6, 9, 15, 0, 0, time.UTC)

type memSource map[string][]model.Candle

func (m memSource) ReadCandles(symbol string, after time.Time) ([]model.Candle, error) {
	if symbol == "BROKEN" {
		return nil, errors.New("disk on fire")
	}
	var out []model.Candle
	for _, c := range m[symbol] {
		if c.TS.After(after) {
			out = append(out, c)
		}
	}
	return out, nil
}

func at(sym string, min int) model.Candle {
	return model.Candle{Symbol: sym, TS: base.Add(time.Duration(min) * time.Minute), High: 1, Low: 1, Close: 1}
}

func TestRun_MergesSymbolsInTimeOrder(t *testing.T) {
	src := memSource{
		"NIFTY": {at("NIFTY", 0), at("NIFTY", 2), at("NIFTY", 4)},
		"TCS":   {at("TCS", 1), at("TCS", 2), at("TCS", 3)},
	}
	out := make(chan model.Candle, 10)
	n, err := New(src).Run(context.Background(), []string{"NIFTY", "TCS"}, time.Time{}, 0, out)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	close(out)

	var got []string
	for c := range out {
		got = append(got, c.Symbol+"@"+c.TS.Format("04"))
	}
	assert.Equal(t, []string{"NIFTY@15", "TCS@16", "NIFTY@17", "TCS@17", "TCS@18", "NIFTY@19"}, got)
}

func TestRun_FromFilters(t *testing.T) {
	src := memSource{"NIFTY": {at("NIFTY", 0), at("NIFTY", 1), at("NIFTY", 2)}}
	out := make(chan model.Candle, 10)
	n, err := New(src).Run(context.Background(), []string{"NIFTY"}, base.Add(time.Minute), 0, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_SourceError(t *testing.T) {
	out := make(chan model.Candle, 1)
	_, err := New(memSource{}).Run(context.Background(), []string{"BROKEN"}, time.Time{}, 0, out)
	assert.Error(t, err)
}

func TestRun_CancelWhileBlocked(t *testing.T) {
	src := memSource{"NIFTY": {at("NIFTY", 0), at("NIFTY", 1)}}
	out := make(chan model.Candle) // nobody reads
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, err := New(src).Run(ctx, []string{"NIFTY"}, time.Time{}, 0, out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, n)
}
