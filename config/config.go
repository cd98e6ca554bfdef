package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"swingtrend/internal/swing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	// Feed
	FeedURL string
	Symbols []string // empty: track whatever the feed sends

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	HTTPAddr      string

	// Logging
	LogLevel  string
	LogFormat string

	// Tracker defaults
	RetracePct         float64
	AnyRetrace         bool // every pullback confirms a swing point
	StabilityThreshold int
	SidewaysThreshold  int
	Debug              bool
	RecordEvents       bool // keep the structure log so /trends/{symbol}/plot works
	RecordWindow       int  // candles of plot history kept per symbol, 0 = all

	// Per-symbol overrides (YAML)
	SymbolsFile string

	// Checkpoints
	SnapshotInterval time.Duration

	// Alerts
	WebhookURL       string
	WebhookHeaders   map[string]string
	TelegramBotToken string
	TelegramChatID   string
	AlertEvery       time.Duration
	AlertBurst       int
}

// Load reads .env (if present) and the environment, with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env: %v", err)
	}

	return &Config{
		FeedURL: getEnv("FEED_URL", "ws://localhost:9001/candles"),
		Symbols: splitList(getEnv("SYMBOLS", "")),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":9090"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		RetracePct:         getEnvFloat("RETRACE_PCT", swing.DefaultRetracePct),
		AnyRetrace:         getEnvBool("ANY_RETRACE", false),
		StabilityThreshold: getEnvInt("STABILITY_THRESHOLD", swing.DefaultStabilityThreshold),
		SidewaysThreshold:  getEnvInt("SIDEWAYS_THRESHOLD", swing.DefaultSidewaysThreshold),
		Debug:              getEnvBool("SWING_DEBUG", false),
		RecordEvents:       getEnvBool("RECORD_EVENTS", false),
		RecordWindow:       getEnvInt("RECORD_WINDOW", 2000),

		SymbolsFile: getEnv("SYMBOLS_FILE", ""),

		SnapshotInterval: getEnvDuration("SNAPSHOT_INTERVAL", 5*time.Minute),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookHeaders:   parseHeaders(getEnv("WEBHOOK_HEADERS", "")),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertEvery:       getEnvDuration("ALERT_EVERY", time.Minute),
		AlertBurst:       getEnvInt("ALERT_BURST", 3),
	}
}

// Swing returns the tracker configuration shared by every symbol.
func (c *Config) Swing() swing.Config {
	return swing.Config{
		RetracePct:         c.RetracePct,
		AnyRetrace:         c.AnyRetrace,
		StabilityThreshold: c.StabilityThreshold,
		SidewaysThreshold:  c.SidewaysThreshold,
		Debug:              c.Debug,
		RecordEvents:       c.RecordEvents,
		RecordWindow:       c.RecordWindow,
	}
}

// SymbolOverride tunes the tracker of one symbol. Zero fields keep the default.
type SymbolOverride struct {
	RetracePct         float64 `yaml:"retrace_pct"`
	StabilityThreshold int     `yaml:"stability_threshold"`
	SidewaysThreshold  int     `yaml:"sideways_threshold"`
	Debug              bool    `yaml:"debug"`
}

type symbolsFile struct {
	Symbols map[string]SymbolOverride `yaml:"symbols"`
}

// LoadSymbols parses a YAML overrides file:
//
//	symbols:
//	  BANKNIFTY:
//	    retrace_pct: 3
//	    stability_threshold: 60
//
// An empty path yields no overrides.
func LoadSymbols(path string) (map[string]SymbolOverride, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}
	var f symbolsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}
	return f.Symbols, nil
}

// Apply layers the override on top of base.
func (o SymbolOverride) Apply(base swing.Config) swing.Config {
	if o.RetracePct != 0 {
		base.RetracePct = o.RetracePct
		base.AnyRetrace = false
	}
	if o.StabilityThreshold != 0 {
		base.StabilityThreshold = o.StabilityThreshold
	}
	if o.SidewaysThreshold != 0 {
		base.SidewaysThreshold = o.SidewaysThreshold
	}
	if o.Debug {
		base.Debug = true
	}
	return base
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseHeaders reads "Name: value; Other: value" pairs. Entries without a
// colon are logged and skipped.
func parseHeaders(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			log.Printf("[config] ignoring malformed WEBHOOK_HEADERS entry %q", p)
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
