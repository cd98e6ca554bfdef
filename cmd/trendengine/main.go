// cmd/trendengine runs the live swing trend service: candles from the
// WebSocket feed, trend state to Redis, history and checkpoints to SQLite.
//
// Configuration comes from the environment (and .env), see config.Load.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"swingtrend/config"
	"swingtrend/internal/logger"
	"swingtrend/internal/trendengine"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	logger.Init(logger.Options{
		Service: "trendengine",
		Level:   logger.ParseLevel(cfg.LogLevel),
		Format:  cfg.LogFormat,
	})
	log.Printf("[trendengine] retrace=%.2f%% stability=%d sideways=%d checkpoint=%s",
		cfg.RetracePct, cfg.StabilityThreshold, cfg.SidewaysThreshold, cfg.SnapshotInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	svc, err := trendengine.New(ctx, cfg)
	if err != nil {
		log.Fatalf("[trendengine] init failed: %v", err)
	}

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[trendengine] fatal: %v", err)
	}
}
