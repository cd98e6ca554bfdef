// cmd/candleserver is a demo WebSocket candle feed for running the trend
// engine without a broker. It either replays candles stored in SQLite or
// random-walks synthetic 1-minute bars.
//
// Candle JSON shape is identical to model.Candle:
//
//	{"symbol":"NIFTY","ts":"...","open":21700,"high":21725.5,"low":21690,"close":21712,"volume":1200}
//
// Clients may send {"action":"subscribe","symbols":["NIFTY"]} to filter.
//
// Config (env vars):
//
//	CANDLE_SERVER_ADDR  listen address (default: ":9001")
//	CANDLE_SYMBOLS      comma-separated symbols (default: "NIFTY,BANKNIFTY")
//	CANDLE_INTERVAL_MS  synthetic bar interval in milliseconds (default: "1000")
//	CANDLE_DB           SQLite database to replay instead of synthesising
//	CANDLE_SPEED        replay speed multiplier, 0 = as fast as possible (default: "60")
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"swingtrend/internal/marketdata/replay"
	"swingtrend/internal/model"
	sqlitestore "swingtrend/internal/store/sqlite"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

type client struct {
	ch   chan []byte
	mu   sync.RWMutex
	only map[string]bool // nil: every symbol
}

func (c *client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.only == nil || c.only[symbol]
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*client)}
}

func (h *hub) register(conn *websocket.Conn) *client {
	c := &client{ch: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[conn] = c
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if c, ok := h.clients[conn]; ok {
		close(c.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(c model.Candle) {
	msg := c.JSON()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		if !cl.wants(c.Symbol) {
			continue
		}
		select {
		case cl.ch <- msg:
		default: // slow client, drop candle
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[candleserver] upgrade error: %v", err)
			return
		}
		log.Printf("[candleserver] client connected: %s", r.RemoteAddr)

		cl := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[candleserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: subscription frames; exits when the client goes away.
		go func() {
			for {
				var sub subscribeMsg
				if err := conn.ReadJSON(&sub); err != nil {
					h.unregister(conn)
					return
				}
				if sub.Action != "subscribe" {
					continue
				}
				only := make(map[string]bool, len(sub.Symbols))
				for _, s := range sub.Symbols {
					only[s] = true
				}
				cl.mu.Lock()
				cl.only = only
				cl.mu.Unlock()
				log.Printf("[candleserver] %s subscribed to %v", r.RemoteAddr, sub.Symbols)
			}
		}()

		// Write pump: sends candle JSON to this client.
		for msg := range cl.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Candle sources ──────────────────────────────────────────────────────────

// walker random-walks one synthetic instrument.
type walker struct {
	symbol string
	price  float64
}

// bar builds one candle from ten ±0.3% steps.
func (wk *walker) bar(ts time.Time, rng *rand.Rand) model.Candle {
	open := wk.price
	high, low := open, open
	for i := 0; i < 10; i++ {
		wk.price *= 1 + (rng.Float64()*0.6-0.3)/100
		high = math.Max(high, wk.price)
		low = math.Min(low, wk.price)
	}
	return model.Candle{
		Symbol: wk.symbol,
		TS:     ts,
		Open:   round2(open),
		High:   round2(high),
		Low:    round2(low),
		Close:  round2(wk.price),
		Volume: float64(rng.Intn(1000) + 1),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func runGenerator(ctx context.Context, h *hub, symbols []string, interval time.Duration) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	walkers := make([]*walker, len(symbols))
	for i, s := range symbols {
		walkers[i] = &walker{symbol: s, price: startPrice(s)}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Synthetic clock: one minute per bar, starting at the current minute.
	ts := time.Now().UTC().Truncate(time.Minute)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, wk := range walkers {
				h.broadcast(wk.bar(ts, rng))
			}
			ts = ts.Add(time.Minute)
		}
	}
}

func runReplay(ctx context.Context, h *hub, dbPath string, symbols []string, speed float64) {
	reader, err := sqlitestore.NewReader(dbPath)
	if err != nil {
		log.Fatalf("[candleserver] sqlite open failed: %v", err)
	}
	defer reader.Close()

	out := make(chan model.Candle, 1000)
	go func() {
		for c := range out {
			h.broadcast(c)
		}
	}()
	n, err := replay.New(reader).Run(ctx, symbols, time.Time{}, speed, out)
	close(out)
	if err != nil && ctx.Err() == nil {
		log.Printf("[candleserver] replay error: %v", err)
	}
	log.Printf("[candleserver] replay finished after %d candles", n)
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[candleserver] starting demo candle server...")

	addr := envOrDefault("CANDLE_SERVER_ADDR", ":9001")
	symbols := splitSymbols(envOrDefault("CANDLE_SYMBOLS", "NIFTY,BANKNIFTY"))
	intervalMs := envIntOrDefault("CANDLE_INTERVAL_MS", 1000)
	dbPath := os.Getenv("CANDLE_DB")
	speed, err := strconv.ParseFloat(envOrDefault("CANDLE_SPEED", "60"), 64)
	if err != nil {
		speed = 60
	}
	if len(symbols) == 0 {
		log.Fatalf("[candleserver] no symbols configured via CANDLE_SYMBOLS")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	h := newHub()
	if dbPath != "" {
		log.Printf("[candleserver] replaying %v from %s at %.1fx", symbols, dbPath, speed)
		go runReplay(ctx, h, dbPath, symbols, speed)
	} else {
		log.Printf("[candleserver] synthesising %v every %dms", symbols, intervalMs)
		go runGenerator(ctx, h, symbols, time.Duration(intervalMs)*time.Millisecond)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/candles", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"candleserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[candleserver] ✅ listening on %s  (WebSocket: ws://localhost%s/candles)", addr, addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("[candleserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func startPrice(symbol string) float64 {
	switch symbol {
	case "NIFTY":
		return 21700
	case "BANKNIFTY":
		return 46000
	default:
		return 1000
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
