// cmd/trendwatch tails the breakouts and reversals the trend engine
// publishes on Redis and prints one line per event.
//
// Usage:
//
//	go run ./cmd/trendwatch              # every symbol
//	go run ./cmd/trendwatch NIFTY TCS    # only these
//
// Redis settings come from the same environment as the engine
// (REDIS_ADDR, REDIS_PASSWORD, REDIS_DB).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"swingtrend/config"
	redisstore "swingtrend/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, err := redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[trendwatch] %v", err)
	}
	defer store.Close()

	symbols := os.Args[1:]
	events, err := store.SubscribeEvents(ctx, symbols...)
	if err != nil {
		log.Fatalf("[trendwatch] %v", err)
	}
	if len(symbols) == 0 {
		log.Println("[trendwatch] watching every symbol, Ctrl+C to stop")
	} else {
		log.Printf("[trendwatch] watching %v, Ctrl+C to stop", symbols)
	}

	for ev := range events {
		fmt.Printf("[%s] %-10s %-9s %-4s close=%-10g level=%-10g coc=%-10g stable=%t\n",
			ev.TS.Format("2006-01-02 15:04"), ev.Symbol, ev.Type, ev.Trend, ev.Close, ev.Level, ev.CoC, ev.Stable)
	}
}
