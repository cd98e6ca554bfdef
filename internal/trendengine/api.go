package trendengine

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"swingtrend/internal/model"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Routes registers the trend endpoints on mux:
//
//	GET /trends                  every symbol's trend state
//	GET /trends/{symbol}         one symbol's trend state
//	GET /trends/{symbol}/plot    plot segments and colors
//	GET /trends/{symbol}/events  journaled breakouts and reversals (?limit=N)
func (e *Engine) Routes(mux interface {
	Handle(pattern string, h http.Handler)
}) {
	mux.Handle("/trends", http.HandlerFunc(e.handleTrends))
	mux.Handle("/trends/", http.HandlerFunc(e.handleSymbol))
}

func (e *Engine) handleTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, e.States())
}

func (e *Engine) handleSymbol(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/trends/"), "/")
	symbol, sub, _ := strings.Cut(rest, "/")
	if symbol == "" {
		e.handleTrends(w, r)
		return
	}

	switch sub {
	case "":
		st, ok := e.State(symbol)
		if !ok {
			http.Error(w, "unknown symbol "+symbol, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case "plot":
		p, ok := e.Plot(symbol)
		if !ok {
			http.Error(w, "no plot data for "+symbol+" (is RECORD_EVENTS enabled?)", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case "events":
		e.handleEvents(w, r, symbol)
	default:
		http.NotFound(w, r)
	}
}

func (e *Engine) handleEvents(w http.ResponseWriter, r *http.Request, symbol string) {
	if e.journal == nil {
		http.Error(w, "event journal not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := e.journal.ReadEvents(symbol, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.TrendEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
