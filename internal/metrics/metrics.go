package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swingtrend/internal/model"
)

// Metrics holds all Prometheus metrics for the trend engine.
type Metrics struct {
	CandlesTotal    *prometheus.CounterVec // labels: symbol
	RejectedCandles *prometheus.CounterVec // labels: reason=sequence|invalid|callback
	EventsTotal     *prometheus.CounterVec // labels: type, symbol
	IdentifyDur     prometheus.Histogram
	CandleLag       prometheus.Gauge

	// Per-symbol trend view
	Trend      *prometheus.GaugeVec // labels: symbol; -1=down, 0=undetermined, 1=up
	BarsSince  *prometheus.GaugeVec // labels: symbol
	Stable     *prometheus.GaugeVec // labels: symbol; 0/1
	Trackers   prometheus.Gauge
	FeedReconn prometheus.Counter

	// Storage
	RedisWriteDur   prometheus.Histogram
	SQLiteCommitDur prometheus.Histogram
	SnapshotsTotal  *prometheus.CounterVec // labels: store, result=ok|error

	// Publish circuit breaker
	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter
	RedisPending prometheus.Gauge

	// In-process fan-out
	BusDepth *prometheus.GaugeVec   // labels: bus, subscriber
	BusDrops *prometheus.CounterVec // labels: bus, subscriber

	// Alerts
	AlertsSent      *prometheus.CounterVec // labels: channel
	AlertsThrottled prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_candles_total",
			Help: "Candles accepted by the trend trackers",
		}, []string{"symbol"}),
		RejectedCandles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_candles_rejected_total",
			Help: "Candles rejected by the trend trackers",
		}, []string{"reason"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_events_total",
			Help: "Breakouts and reversals observed",
		}, []string{"type", "symbol"}),
		IdentifyDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_identify_duration_seconds",
			Help:    "Tracker processing latency per candle",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),
		CandleLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_candle_lag_seconds",
			Help: "Lag between candle timestamp and processing time",
		}),

		Trend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_trend",
			Help: "Current trend per symbol (-1=down, 0=undetermined, 1=up)",
		}, []string{"symbol"}),
		BarsSince: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_bars_since_swing",
			Help: "Candles since the last confirmed swing point",
		}, []string{"symbol"}),
		Stable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_trend_stable",
			Help: "Whether the tracker has seen enough candles to trust its trend",
		}, []string{"symbol"}),
		Trackers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_trackers",
			Help: "Number of symbols being tracked",
		}),
		FeedReconn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_feed_reconnects_total",
			Help: "Candle feed reconnection attempts",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendengine_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_snapshots_total",
			Help: "Book checkpoints written",
		}, []string{"store", "result"}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_redis_breaker_state",
			Help: "Redis publish breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_redis_breaker_trips_total",
			Help: "Times the Redis publish breaker tripped open",
		}),
		RedisPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trendengine_redis_pending_writes",
			Help: "State and event writes queued while Redis is unavailable",
		}),

		BusDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trendengine_bus_queue_depth",
			Help: "Values waiting in a fan-out subscriber channel",
		}, []string{"bus", "subscriber"}),
		BusDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_bus_dropped_total",
			Help: "Values dropped for a slow fan-out subscriber",
		}, []string{"bus", "subscriber"}),

		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendengine_alerts_sent_total",
			Help: "Alerts delivered per channel",
		}, []string{"channel"}),
		AlertsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendengine_alerts_throttled_total",
			Help: "Alerts dropped by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.CandlesTotal,
		m.RejectedCandles,
		m.EventsTotal,
		m.IdentifyDur,
		m.CandleLag,
		m.Trend,
		m.BarsSince,
		m.Stable,
		m.Trackers,
		m.FeedReconn,
		m.RedisWriteDur,
		m.SQLiteCommitDur,
		m.SnapshotsTotal,
		m.BreakerState,
		m.BreakerTrips,
		m.RedisPending,
		m.BusDepth,
		m.BusDrops,
		m.AlertsSent,
		m.AlertsThrottled,
	)

	return m
}

// ObserveState updates the per-symbol gauges from a published trend state.
func (m *Metrics) ObserveState(st model.TrendState) {
	var v float64
	switch st.Trend {
	case "UP":
		v = 1
	case "DOWN":
		v = -1
	}
	m.Trend.WithLabelValues(st.Symbol).Set(v)
	m.BarsSince.WithLabelValues(st.Symbol).Set(float64(st.BarsSince))
	stable := 0.0
	if st.Stable {
		stable = 1
	}
	m.Stable.WithLabelValues(st.Symbol).Set(stable)
}

// ObserveEvent counts a breakout or reversal.
func (m *Metrics) ObserveEvent(ev model.TrendEvent) {
	m.EventsTotal.WithLabelValues(string(ev.Type), ev.Symbol).Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Trackers       int       `json:"trackers"`
	RestoredFrom   string    `json:"restored_from"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetTrackers(n int) {
	h.mu.Lock()
	h.Trackers = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetRestoredFrom(src string) {
	h.mu.Lock()
	h.RestoredFrom = src
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
// Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
// SQLite is the source of truth; Redis and the feed only degrade the service.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	switch {
	case !h.SQLiteOK:
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	case !h.FeedConnected || !h.RedisConnected:
		overallStatus = "degraded"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		Trackers        int     `json:"trackers"`
		RestoredFrom    string  `json:"restored_from"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Trackers:        h.Trackers,
		RestoredFrom:    h.RestoredFrom,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// handlers registered before Start.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
}

// NewServer creates a metrics and health server. g is the registry to expose.
func NewServer(addr string, health *HealthStatus, g prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle registers an extra handler on the server mux.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler returns the server mux (used by tests).
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
