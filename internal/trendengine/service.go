package trendengine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"swingtrend/config"
	"swingtrend/internal/marketdata/bus"
	"swingtrend/internal/marketdata/ws"
	"swingtrend/internal/metrics"
	"swingtrend/internal/model"
	"swingtrend/internal/notification"
	redisstore "swingtrend/internal/store/redis"
	sqlitestore "swingtrend/internal/store/sqlite"
	"swingtrend/internal/swing"
)

// Service is the top-level orchestrator for the trend engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config

	book      *swing.Book
	engine    *Engine
	redis     *redisstore.Store
	breaker   *redisstore.Breaker
	publisher *redisstore.BufferedPublisher
	sqlReader *sqlitestore.Reader
	sqlWriter *sqlitestore.Writer
	alerts    *notification.Dispatcher
	feed      *ws.Ingest

	reg    *prometheus.Registry
	prom   *metrics.Metrics
	health *metrics.HealthStatus
	server *metrics.Server
}

// New connects to Redis and SQLite and builds the book. Redis is optional:
// without it the engine runs on SQLite alone and reports degraded health.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &Service{
		cfg:    cfg,
		reg:    reg,
		prom:   metrics.NewMetrics(reg),
		health: metrics.NewHealthStatus(),
	}

	book, err := swing.NewBook(cfg.Swing())
	if err != nil {
		return nil, fmt.Errorf("tracker config: %w", err)
	}
	overrides, err := config.LoadSymbols(cfg.SymbolsFile)
	if err != nil {
		return nil, err
	}
	for sym, ov := range overrides {
		if err := book.SetSymbolConfig(sym, ov.Apply(cfg.Swing())); err != nil {
			return nil, err
		}
	}
	if len(overrides) > 0 {
		log.Printf("[trendengine] loaded %d symbol overrides from %s", len(overrides), cfg.SymbolsFile)
	}
	svc.book = book

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	svc.sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		return nil, err
	}
	svc.sqlWriter.OnCommit = func(_ int, d time.Duration) {
		svc.prom.SQLiteCommitDur.Observe(d.Seconds())
	}
	svc.sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		svc.sqlWriter.Close()
		return nil, err
	}
	svc.health.SetSQLiteOK(true)

	// ---- Connect to Redis ----
	svc.redis, err = redisstore.New(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("[trendengine] WARNING: redis unavailable: %v (continuing without live publish)", err)
		svc.redis = nil
	} else {
		svc.health.SetRedisConnected(true)
		svc.breaker = redisstore.NewBreaker(5, 10*time.Second)
		svc.breaker.OnStateChange = func(from, to redisstore.BreakerState) {
			log.Printf("[trendengine] redis breaker %s -> %s", from, to)
			svc.prom.BreakerState.Set(float64(to))
			if to == redisstore.BreakerOpen {
				svc.prom.BreakerTrips.Inc()
			}
		}
		// Outlives ctx so the final flush on shutdown can still write.
		svc.publisher = redisstore.NewBufferedPublisher(context.WithoutCancel(ctx), timedSink{svc.redis, svc.prom}, svc.breaker, 0)
		svc.publisher.OnBuffer = func(pending int) { svc.prom.RedisPending.Set(float64(pending)) }
		svc.publisher.OnFlush = func(_, pending int) { svc.prom.RedisPending.Set(float64(pending)) }
	}

	// ---- Alerts ----
	svc.alerts = notification.NewDispatcher(cfg.AlertEvery, cfg.AlertBurst)
	svc.alerts.Add("log", notification.NewLogNotifier())
	if cfg.WebhookURL != "" {
		wh := notification.NewWebhookNotifier(cfg.WebhookURL)
		for k, v := range cfg.WebhookHeaders {
			wh.WithHeader(k, v)
		}
		svc.alerts.Add("webhook", wh)
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		svc.alerts.Add("telegram", notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	svc.alerts.OnSent = func(ch string) { svc.prom.AlertsSent.WithLabelValues(ch).Inc() }
	svc.alerts.OnThrottled = func() { svc.prom.AlertsThrottled.Inc() }

	// ---- Feed ----
	svc.feed, err = ws.New(ws.Config{URL: cfg.FeedURL, Symbols: cfg.Symbols})
	if err != nil {
		svc.close()
		return nil, err
	}
	svc.feed.OnConnect = func() { svc.health.SetFeedConnected(true) }
	svc.feed.OnDisconnect = func(error) {
		svc.health.SetFeedConnected(false)
		svc.prom.FeedReconn.Inc()
	}

	var pub Publisher
	if svc.publisher != nil {
		pub = svc.publisher
	}
	svc.engine = NewEngine(book, pub, svc.prom, svc.health)
	svc.engine.SetJournal(svc.sqlReader)
	return svc, nil
}

// Run restores the book, starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Println("[trendengine] starting swing trend engine...")

	// ---- Restore book from snapshot, then catch up from SQLite ----
	restorer := swing.NewRestorer(svc.sqlReader)
	if svc.redis != nil {
		restorer.AddSource("redis", svc.redis)
	}
	restorer.AddSource("sqlite", svc.sqlReader)
	from := restorer.Restore(ctx, svc.book)
	svc.health.SetRestoredFrom(from)

	symbols, err := svc.sqlReader.ReadSymbols()
	if err != nil {
		return fmt.Errorf("list stored symbols: %w", err)
	}
	replayed, err := restorer.Replay(svc.book, symbols)
	if err != nil {
		log.Printf("[trendengine] WARNING: replay stopped early: %v", err)
	}
	log.Printf("[trendengine] ✅ book ready: %d trackers (restored from %s, %d candles replayed)",
		svc.book.Len(), from, replayed)

	// Live events only from here on.
	svc.engine.Arm()

	// ---- Start subsystems ----
	// Accepted candles and events fan out to storage and alerts; a slow
	// consumer drops rather than stalling the book.
	candleCh := make(chan model.Candle, 5000)
	acceptedCh := make(chan model.Candle, 5000)
	eventCh := make(chan model.TrendEvent, 256)
	svc.engine.AddCandleSink(acceptedCh)
	svc.engine.AddEventSink(eventCh)

	candleBus := bus.New[model.Candle]("candles", 5000)
	eventBus := bus.New[model.TrendEvent]("events", 256)
	persistCh := candleBus.Subscribe()
	journalCh := eventBus.Subscribe()
	alertCh := eventBus.Subscribe()
	if svc.redis != nil {
		go svc.redis.RunCandles(ctx, candleBus.Subscribe())
	}
	candleBus.OnDrop = busDropCounter(svc.prom, candleBus.Name())
	eventBus.OnDrop = busDropCounter(svc.prom, eventBus.Name())
	go candleBus.Run(ctx, acceptedCh)
	go eventBus.Run(ctx, eventCh)
	go sampleBuses(ctx, svc.prom, 5*time.Second, candleBus, eventBus)

	go svc.sqlWriter.Run(ctx, persistCh)
	go svc.sqlWriter.RunEvents(ctx, journalCh)
	go svc.alerts.Run(ctx, alertCh)
	go svc.engine.Run(ctx, candleCh)
	go func() {
		if err := svc.feed.Start(ctx, candleCh); err != nil {
			log.Printf("[trendengine] feed error: %v", err)
		}
	}()

	checkpoint := NewCheckpointer(svc.engine, svc.prom)
	if svc.redis != nil {
		checkpoint.AddSink("redis", svc.redis)
	}
	checkpoint.AddSink("sqlite", SnapshotSinkFunc(func(_ context.Context, snap *swing.BookSnapshot) error {
		return svc.sqlWriter.SaveSnapshot(snap)
	}))
	if err := checkpoint.Start(ctx, svc.cfg.SnapshotInterval); err != nil {
		return err
	}

	svc.health.StartLivenessChecker(ctx, svc.redisClient(), svc.sqlReader.DB(), 10*time.Second)

	svc.server = metrics.NewServer(svc.cfg.HTTPAddr, svc.health, svc.reg)
	svc.engine.Routes(svc.server)
	svc.server.Start()

	// ---- Startup banner ----
	log.Println("[trendengine] ╔════════════════════════════════════════════════════════╗")
	log.Println("[trendengine] ║  Swing Trend Engine Active                             ║")
	log.Println("[trendengine] ║                                                        ║")
	log.Println("[trendengine] ║  [WS feed] → [Swing book] → [Redis / SQLite / Alerts]  ║")
	log.Printf("[trendengine] ║  Checkpoint every %-37s║", svc.cfg.SnapshotInterval)
	log.Printf("[trendengine] ║  HTTP %-49s║", svc.cfg.HTTPAddr)
	log.Println("[trendengine] ╚════════════════════════════════════════════════════════╝")
	log.Println("[trendengine] ✅ all systems running. Press Ctrl+C to stop.")

	<-ctx.Done()

	// ---- Graceful shutdown ----
	log.Println("[trendengine] shutdown signal received, saving final snapshot...")
	checkpoint.Stop()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	checkpoint.Save(shutCtx)
	svc.server.Stop(shutCtx)

	// Let the writers drain their channels.
	time.Sleep(300 * time.Millisecond)
	if svc.publisher != nil {
		svc.publisher.Flush()
	}
	svc.close()
	log.Println("[trendengine] shutdown complete.")
	return nil
}

func (svc *Service) close() {
	if svc.sqlReader != nil {
		svc.sqlReader.Close()
	}
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	if svc.redis != nil {
		svc.redis.Close()
	}
}

func (svc *Service) redisClient() *goredis.Client {
	if svc.redis == nil {
		return nil
	}
	return svc.redis.Client()
}

// timedSink records Redis write latency around the store.
type timedSink struct {
	store *redisstore.Store
	prom  *metrics.Metrics
}

func (s timedSink) WriteState(ctx context.Context, st model.TrendState) error {
	defer s.observe(time.Now())
	return s.store.WriteState(ctx, st)
}

func (s timedSink) PublishEvent(ctx context.Context, ev model.TrendEvent) error {
	defer s.observe(time.Now())
	return s.store.PublishEvent(ctx, ev)
}

func (s timedSink) observe(start time.Time) {
	s.prom.RedisWriteDur.Observe(time.Since(start).Seconds())
}

// busStats is the part of a bus.FanOut the sampler needs.
type busStats interface {
	Name() string
	ChannelStats() []bus.ChannelStat
}

// sampleBuses publishes subscriber queue depths every interval.
func sampleBuses(ctx context.Context, prom *metrics.Metrics, every time.Duration, buses ...busStats) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range buses {
				observeBus(prom, b)
			}
		}
	}
}

func observeBus(prom *metrics.Metrics, b busStats) {
	for i, st := range b.ChannelStats() {
		prom.BusDepth.WithLabelValues(b.Name(), strconv.Itoa(i)).Set(float64(st.Len))
	}
}

func busDropCounter(prom *metrics.Metrics, name string) func(int) {
	return func(idx int) {
		prom.BusDrops.WithLabelValues(name, strconv.Itoa(idx)).Inc()
	}
}
