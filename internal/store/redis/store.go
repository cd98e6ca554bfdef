package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"swingtrend/internal/model"
	"swingtrend/internal/swing"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"
)

const (
	snapshotKey = "trend:snapshot"
	snapshotTTL = 24 * time.Hour

	// ~1 trading day of 1m candles per symbol plus headroom.
	candleStreamMaxLen = 1000

	defaultMaxElapsed = 30 * time.Second
)

// Config configures the Redis store.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	// MaxElapsed bounds the startup ping retries. Defaults to 30s.
	MaxElapsed time.Duration
}

// Store holds tracker snapshots, per-symbol trend state and the event channels.
type Store struct {
	client *goredis.Client
}

// New connects to Redis, retrying the ping with exponential backoff.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed

	attempt := 0
	ping := func() error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := client.Ping(pctx).Err()
		if err != nil {
			log.Printf("[redis] ping attempt %d failed: %v", attempt, err)
		}
		return err
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// WriteBookSnapshot stores a book checkpoint under a single key.
func (s *Store) WriteBookSnapshot(ctx context.Context, snap *swing.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

// ReadBookSnapshot loads the last checkpoint. Returns nil, nil when none is stored.
func (s *Store) ReadBookSnapshot(ctx context.Context) (*swing.BookSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}

	var snap swing.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// CandleStream returns the stream key holding recent candles of symbol.
func CandleStream(symbol string) string {
	return "candle:1m:" + symbol
}

// WriteCandle appends a candle to its capped stream.
func (s *Store) WriteCandle(ctx context.Context, c model.Candle) error {
	err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: CandleStream(c.Symbol),
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"ts":   c.TS.UnixMilli(),
			"data": string(c.JSON()),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", c.Symbol, err)
	}
	return nil
}

// RunCandles mirrors candles into their streams until ctx is cancelled or ch is closed.
func (s *Store) RunCandles(ctx context.Context, ch <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if err := s.WriteCandle(ctx, c); err != nil {
				log.Printf("[redis] %v", err)
			}
		}
	}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
