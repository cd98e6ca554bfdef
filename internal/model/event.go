package model

import (
	"encoding/json"
	"time"
)

// EventType names the trend transitions that leave the tracker.
type EventType string

const (
	EventBreakout EventType = "BREAKOUT"
	EventReversal EventType = "REVERSAL"
)

// TrendEvent is a breakout or reversal observed on a symbol.
// Level is the swing level that was broken (SPH/SPL for breakouts,
// the change-of-character level for reversals).
type TrendEvent struct {
	Type   EventType `json:"type"`
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`    // candle that triggered the event
	Trend  string    `json:"trend"` // trend after the event
	Close  float64   `json:"close"`
	Level  float64   `json:"level"`
	CoC    float64   `json:"coc"` // change-of-character level after the event
	Stable bool      `json:"stable"`
}

// Channel returns the Redis pub/sub channel: "trend:events:{symbol}".
func (e *TrendEvent) Channel() string {
	return "trend:events:" + e.Symbol
}

// JSON returns the JSON-encoded event.
func (e *TrendEvent) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// TrendState is the per-symbol view published after every candle.
type TrendState struct {
	Symbol      string    `json:"symbol"`
	Trend       string    `json:"trend"`
	SPH         *float64  `json:"sph"`
	SPL         *float64  `json:"spl"`
	CoC         *float64  `json:"coc"`
	CandleCount int       `json:"candle_count"`
	BarsSince   int       `json:"bars_since"`
	Sideways    bool      `json:"sideways"`
	RangeBound  bool      `json:"range_bound"`
	Stable      bool      `json:"stable"`
	LastTS      time.Time `json:"last_ts"`
}

// StateKey returns the Redis hash key: "trend:state:{symbol}".
func (s *TrendState) StateKey() string {
	return "trend:state:" + s.Symbol
}
