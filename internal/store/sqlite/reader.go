package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"swingtrend/internal/model"
	"swingtrend/internal/swing"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for replay and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles reads the candles of symbol strictly after the given time,
// ordered by timestamp ascending for correct replay order.
// A zero after reads the whole history.
func (r *Reader) ReadCandles(symbol string, after time.Time) ([]model.Candle, error) {
	afterMs := int64(-1 << 62)
	if !after.IsZero() {
		afterMs = after.UnixMilli()
	}
	rows, err := r.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsMs int64
		var vol sql.NullFloat64
		if err := rows.Scan(&c.Symbol, &tsMs, &c.Open, &c.High, &c.Low, &c.Close, &vol); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.TS = time.UnixMilli(tsMs).UTC()
		c.Volume = vol.Float64
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadSymbols lists every symbol with stored candles.
func (r *Reader) ReadSymbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM candles ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadLatestSnapshot loads the most recent book checkpoint.
// Returns nil, nil when none is stored.
func (r *Reader) ReadLatestSnapshot() (*swing.BookSnapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM tracker_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap swing.BookSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ReadBookSnapshot adapts ReadLatestSnapshot to swing.SnapshotSource.
func (r *Reader) ReadBookSnapshot(context.Context) (*swing.BookSnapshot, error) {
	return r.ReadLatestSnapshot()
}

// ReadEvents returns the most recent journal entries of symbol, oldest first.
func (r *Reader) ReadEvents(symbol string, limit int) ([]model.TrendEvent, error) {
	rows, err := r.db.Query(`
		SELECT symbol, type, ts, trend, close, level, coc, stable FROM (
			SELECT * FROM trend_events WHERE symbol = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query events: %w", err)
	}
	defer rows.Close()

	var out []model.TrendEvent
	for rows.Next() {
		var ev model.TrendEvent
		var typ string
		var tsMs int64
		var coc sql.NullFloat64
		if err := rows.Scan(&ev.Symbol, &typ, &tsMs, &ev.Trend, &ev.Close, &ev.Level, &coc, &ev.Stable); err != nil {
			return nil, fmt.Errorf("sqlite scan events: %w", err)
		}
		ev.Type = model.EventType(typ)
		ev.TS = time.UnixMilli(tsMs).UTC()
		ev.CoC = coc.Float64
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
