package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"swingtrend/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const eventChannelPrefix = "trend:events:"

// WriteState stores the latest trend view of a symbol as a hash.
// The "data" field holds the full JSON; the flat fields serve redis-cli users.
func (s *Store) WriteState(ctx context.Context, st model.TrendState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	fields := map[string]interface{}{
		"data":         string(data),
		"trend":        st.Trend,
		"candle_count": st.CandleCount,
		"bars_since":   st.BarsSince,
		"stable":       st.Stable,
		"last_ts":      st.LastTS.UnixMilli(),
	}
	if err := s.client.HSet(ctx, st.StateKey(), fields).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", st.StateKey(), err)
	}
	return nil
}

// ReadState loads the trend view of symbol. Returns nil, nil when absent.
func (s *Store) ReadState(ctx context.Context, symbol string) (*model.TrendState, error) {
	key := (&model.TrendState{Symbol: symbol}).StateKey()
	data, err := s.client.HGet(ctx, key, "data").Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis hget %s: %w", key, err)
	}
	var st model.TrendState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}

// PublishEvent publishes a breakout or reversal on "trend:events:{symbol}".
func (s *Store) PublishEvent(ctx context.Context, ev model.TrendEvent) error {
	if err := s.client.Publish(ctx, ev.Channel(), ev.JSON()).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Channel(), err)
	}
	return nil
}

// SubscribeEvents streams events of the given symbols, or of every symbol
// when none are named. The channel closes when ctx is cancelled.
func (s *Store) SubscribeEvents(ctx context.Context, symbols ...string) (<-chan model.TrendEvent, error) {
	var ps *goredis.PubSub
	if len(symbols) == 0 {
		ps = s.client.PSubscribe(ctx, eventChannelPrefix+"*")
	} else {
		chans := make([]string, len(symbols))
		for i, sym := range symbols {
			chans[i] = eventChannelPrefix + sym
		}
		ps = s.client.Subscribe(ctx, chans...)
	}
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan model.TrendEvent, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev model.TrendEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("[redis] bad event on %s: %v", msg.Channel, err)
					continue
				}
				if ev.Symbol == "" {
					ev.Symbol = strings.TrimPrefix(msg.Channel, eventChannelPrefix)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
