// cmd/swingtrend runs a swing trend tracker over the stored candles of one
// symbol and prints the breakouts, reversals and final trend.
//
// Usage:
//
//	go run ./cmd/swingtrend --db=data/candles.db --symbol=NIFTY --retrace=5 --plot=nifty.json
//
// --resume continues from the latest book checkpoint; --save writes the
// symbol's tracker back into a new checkpoint, keeping every other symbol of
// the stored book. --series writes the trend after every candle.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"swingtrend/internal/logger"
	sqlitestore "swingtrend/internal/store/sqlite"
	"swingtrend/internal/swing"
)

type plotFile struct {
	Symbol   string          `json:"symbol"`
	Segments []swing.Segment `json:"segments"`
	Colors   []swing.Color   `json:"colors"`
}

type seriesFile struct {
	Symbol string      `json:"symbol"`
	Series []swing.Bar `json:"series"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	symbol := flag.String("symbol", "", "Symbol to analyse (required)")
	retrace := flag.Float64("retrace", swing.DefaultRetracePct, "Retracement percent that confirms a swing point")
	anyRetrace := flag.Bool("any-retrace", false, "Every pullback confirms a swing point (ignores --retrace)")
	stability := flag.Int("stability", swing.DefaultStabilityThreshold, "Candles before a trend counts as stable")
	sideways := flag.Int("sideways", swing.DefaultSidewaysThreshold, "Bars without a swing point before range-bound")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start from (0=all)")
	plotPath := flag.String("plot", "", "Write plot lines JSON to this file")
	seriesPath := flag.String("series", "", "Write the per-candle trend series JSON to this file")
	showEvents := flag.Bool("events", false, "Print the structure event log")
	resume := flag.Bool("resume", false, "Resume from the latest stored checkpoint")
	save := flag.Bool("save", false, "Save the book as a checkpoint when done")
	debug := flag.Bool("debug", false, "Narrate every transition")
	flag.Parse()

	if *symbol == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *debug {
		logger.Init(logger.Options{Service: "swingtrend", Level: logger.ParseLevel("debug"), Format: "text", Out: os.Stderr})
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[swingtrend] sqlite open failed: %v", err)
	}
	defer reader.Close()

	book, err := swing.NewBook(swing.Config{
		RetracePct:         *retrace,
		AnyRetrace:         *anyRetrace,
		StabilityThreshold: *stability,
		SidewaysThreshold:  *sideways,
		Debug:              *debug,
		RecordEvents:       *showEvents,
		RecordSeries:       *seriesPath != "",
	})
	if err != nil {
		log.Fatalf("[swingtrend] %v", err)
	}

	// The stored book is also the base --save writes over, so the other
	// symbols in it survive.
	var stored *swing.BookSnapshot
	if *resume || *save {
		stored, err = reader.ReadLatestSnapshot()
		if err != nil {
			log.Fatalf("[swingtrend] read checkpoint: %v", err)
		}
	}
	if *resume {
		if stored == nil {
			log.Println("[swingtrend] no checkpoint stored, starting cold")
		} else if !swing.NewRestorer(nil).RestoreFromSnap(book, stored) {
			log.Println("[swingtrend] checkpoint unusable, starting cold")
		}
	}

	t, err := book.Tracker(*symbol)
	if err != nil {
		log.Fatalf("[swingtrend] %v", err)
	}

	after := t.LastAt()
	if *fromTS > 0 {
		if from := time.Unix(*fromTS, 0).UTC(); from.After(after) {
			after = from
		}
	}
	candles, err := reader.ReadCandles(*symbol, after)
	if err != nil {
		log.Fatalf("[swingtrend] %v", err)
	}
	if len(candles) == 0 {
		log.Printf("[swingtrend] no candles for %s after %s", *symbol, after.Format(time.RFC3339))
	}

	breakouts, reversals := 0, 0
	t.OnBreakout(func(t *swing.Tracker, at time.Time, close, level float64) error {
		breakouts++
		fmt.Printf("  [%s] BREAKOUT %-4s close=%-10g level=%-10g coc=%g\n",
			at.Format("2006-01-02 15:04"), t.Trend(), close, level, t.CoC().Price)
		return nil
	})
	t.OnReversal(func(t *swing.Tracker, at time.Time, close, level float64) error {
		reversals++
		fmt.Printf("  [%s] REVERSAL %-4s close=%-10g level=%-10g coc=%g\n",
			at.Format("2006-01-02 15:04"), t.Trend(), close, level, t.CoC().Price)
		return nil
	})

	runErr := t.Run(*symbol, candles, *plotPath != "")
	if runErr != nil {
		log.Printf("[swingtrend] stopped early: %v", runErr)
	}

	if *showEvents {
		fmt.Println()
		for _, e := range t.Events() {
			fmt.Printf("  [%s] %-11s %-12s level=%g\n", e.At.Format("2006-01-02 15:04"), e.Kind, e.Trend, e.Level)
		}
	}

	if *plotPath != "" {
		segs, colors := t.PlotLines()
		data, err := json.MarshalIndent(plotFile{Symbol: *symbol, Segments: segs, Colors: colors}, "", "  ")
		if err != nil {
			log.Fatalf("[swingtrend] marshal plot: %v", err)
		}
		if err := os.WriteFile(*plotPath, data, 0o644); err != nil {
			log.Fatalf("[swingtrend] write plot: %v", err)
		}
		log.Printf("[swingtrend] wrote %d plot segments to %s", len(segs), *plotPath)
	}

	if *seriesPath != "" {
		series := t.Series()
		data, err := json.MarshalIndent(seriesFile{Symbol: *symbol, Series: series}, "", "  ")
		if err != nil {
			log.Fatalf("[swingtrend] marshal series: %v", err)
		}
		if err := os.WriteFile(*seriesPath, data, 0o644); err != nil {
			log.Fatalf("[swingtrend] write series: %v", err)
		}
		log.Printf("[swingtrend] wrote %d trend points to %s", len(series), *seriesPath)
	}

	if *save {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath})
		if err != nil {
			log.Fatalf("[swingtrend] sqlite writer: %v", err)
		}
		update := &swing.BookSnapshot{
			Version:    swing.SnapshotVersion,
			Checkpoint: time.Now().UTC(),
			Trackers:   []swing.Snapshot{t.Snapshot()},
		}
		merged := swing.MergeBookSnapshots(stored, update)
		if err := w.SaveSnapshot(merged); err != nil {
			log.Fatalf("[swingtrend] save checkpoint: %v", err)
		}
		w.Close()
		log.Printf("[swingtrend] ✅ checkpoint saved (%d trackers, %s updated)", len(merged.Trackers), *symbol)
	}

	// Print summary
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════╗")
	fmt.Println("║        SWING TREND SUMMARY           ║")
	fmt.Println("╠══════════════════════════════════════╣")
	fmt.Printf("║  Symbol:            %-16s ║\n", *symbol)
	fmt.Printf("║  Candles processed: %-16d ║\n", len(candles))
	fmt.Printf("║  Total candles:     %-16d ║\n", t.CandleCount())
	fmt.Printf("║  Trend:             %-16s ║\n", t.Trend())
	fmt.Printf("║  SPH:               %-16s ║\n", levelStr(t.SPH()))
	fmt.Printf("║  SPL:               %-16s ║\n", levelStr(t.SPL()))
	fmt.Printf("║  CoC:               %-16s ║\n", levelStr(t.CoC()))
	fmt.Printf("║  Breakouts:         %-16d ║\n", breakouts)
	fmt.Printf("║  Reversals:         %-16d ║\n", reversals)
	fmt.Printf("║  Stable:            %-16t ║\n", t.IsTrendStable())
	fmt.Printf("║  Sideways:          %-16t ║\n", t.IsSideways())
	fmt.Printf("║  Range bound:       %-16t ║\n", t.IsRangeBound())
	fmt.Println("╚══════════════════════════════════════╝")

	if runErr != nil {
		os.Exit(1)
	}
}

func levelStr(l swing.Level) string {
	if !l.Valid {
		return "-"
	}
	return fmt.Sprintf("%g", l.Price)
}
