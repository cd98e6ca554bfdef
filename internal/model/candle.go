package model

import (
	"encoding/json"
	"time"
)

// Candle represents one finalized OHLC bar for a single instrument.
// Prices are float64: swing levels are compared as ratios, never summed.
type Candle struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"` // bar open time (UTC)
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Key returns the instrument key used for routing and storage.
func (c *Candle) Key() string {
	return c.Symbol
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
