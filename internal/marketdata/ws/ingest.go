// Package ws streams finalized candles from a plain-JSON WebSocket feed.
//
// Each text message is one candle:
//
//	{"symbol":"NIFTY","ts":"2024-01-15T09:15:00Z","open":21700,"high":21725.5,"low":21690,"close":21712,"volume":1200}
//
// When symbols are configured, a subscribe frame is sent after every connect:
//
//	{"action":"subscribe","symbols":["NIFTY","BANKNIFTY"]}
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"swingtrend/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Config holds configuration for the candle feed.
type Config struct {
	// URL of the candle WebSocket server, e.g. "ws://localhost:9001/candles".
	URL string

	// Symbols to subscribe to. Empty means whatever the server sends.
	Symbols []string

	// ReconnectDelay is the initial reconnect delay. Defaults to 2 seconds.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Ingest connects to the feed and pushes candles into a channel.
type Ingest struct {
	cfg Config

	// OnConnect is called after each successful dial.
	OnConnect func()
	// OnDisconnect is called each time the connection drops.
	OnDisconnect func(err error)
}

// New creates a new Ingest. Returns an error if the URL is not a ws(s) URL.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws ingest: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws ingest: unsupported scheme %q", u.Scheme)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start streams candles into candleCh until ctx is cancelled, reconnecting
// with exponential backoff. The delay resets after a connection that
// delivered at least one candle.
func (ing *Ingest) Start(ctx context.Context, candleCh chan<- model.Candle) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = ing.cfg.ReconnectDelay
	b.MaxInterval = ing.cfg.MaxReconnectDelay
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()

	for {
		if ctx.Err() != nil {
			return nil
		}

		received, err := ing.runOnce(ctx, candleCh)
		if err == nil {
			return nil
		}
		if received > 0 {
			b.Reset()
		}

		delay := b.NextBackOff()
		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay.Round(time.Millisecond))
		if ing.OnDisconnect != nil {
			ing.OnDisconnect(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce dials, subscribes and reads until the connection drops or ctx ends.
// A nil error means ctx was cancelled.
func (ing *Ingest) runOnce(ctx context.Context, candleCh chan<- model.Candle) (int, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", ing.cfg.URL)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	if len(ing.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: ing.cfg.Symbols}); err != nil {
			return 0, fmt.Errorf("subscribe: %w", err)
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-done:
		}
	}()

	received := 0
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, nil
			}
			return received, err
		}

		c, err := parseCandle(raw)
		if err != nil {
			log.Printf("[ws] %v (raw: %s)", err, raw)
			continue
		}

		select {
		case candleCh <- c:
			received++
		case <-ctx.Done():
			return received, nil
		}
	}
}

var errNoSymbol = errors.New("candle without symbol")

func parseCandle(raw []byte) (model.Candle, error) {
	var c model.Candle
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Candle{}, fmt.Errorf("parse candle: %w", err)
	}
	if c.Symbol == "" {
		return model.Candle{}, errNoSymbol
	}
	if c.TS.IsZero() {
		return model.Candle{}, fmt.Errorf("candle %s without ts", c.Symbol)
	}
	c.TS = c.TS.UTC()
	return c, nil
}
