package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/swing"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SYMBOLS", "RETRACE_PCT", "SNAPSHOT_INTERVAL", "REDIS_DB", "SWING_DEBUG"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, swing.DefaultRetracePct, cfg.RetracePct)
	assert.Equal(t, swing.DefaultStabilityThreshold, cfg.StabilityThreshold)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotInterval)
	assert.Empty(t, cfg.Symbols)
	assert.False(t, cfg.Debug)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", " NIFTY, BANKNIFTY ,,")
	t.Setenv("RETRACE_PCT", "2.5")
	t.Setenv("SNAPSHOT_INTERVAL", "30s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SWING_DEBUG", "true")

	cfg := Load()
	assert.Equal(t, []string{"NIFTY", "BANKNIFTY"}, cfg.Symbols)
	assert.Equal(t, 2.5, cfg.RetracePct)
	assert.Equal(t, 30*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 3, cfg.RedisDB)

	sw := cfg.Swing()
	assert.Equal(t, 2.5, sw.RetracePct)
	assert.True(t, sw.Debug)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("RETRACE_PCT", "five")
	t.Setenv("SNAPSHOT_INTERVAL", "-1m")
	t.Setenv("ALERT_BURST", "x")

	cfg := Load()
	assert.Equal(t, swing.DefaultRetracePct, cfg.RetracePct)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotInterval)
	assert.Equal(t, 3, cfg.AlertBurst)
}

func TestLoadSymbols(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symbols.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
symbols:
  BANKNIFTY:
    retrace_pct: 3
    stability_threshold: 60
  TCS:
    debug: true
`), 0o644))

	ov, err := LoadSymbols(path)
	require.NoError(t, err)
	require.Len(t, ov, 2)

	base := swing.Config{RetracePct: 5, StabilityThreshold: 40, SidewaysThreshold: 20}
	bn := ov["BANKNIFTY"].Apply(base)
	assert.Equal(t, 3.0, bn.RetracePct)
	assert.Equal(t, 60, bn.StabilityThreshold)
	assert.Equal(t, 20, bn.SidewaysThreshold)

	tcs := ov["TCS"].Apply(base)
	assert.Equal(t, 5.0, tcs.RetracePct)
	assert.True(t, tcs.Debug)
}

func TestLoadSymbols_Errors(t *testing.T) {
	none, err := LoadSymbols("")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = LoadSymbols(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("symbols: [1, 2"), 0o644))
	_, err = LoadSymbols(bad)
	assert.Error(t, err)
}

func TestLoad_RecordingAndRetraceOptions(t *testing.T) {
	t.Setenv("ANY_RETRACE", "")
	t.Setenv("RECORD_WINDOW", "")
	cfg := Load()
	assert.False(t, cfg.AnyRetrace)
	assert.Equal(t, 2000, cfg.RecordWindow)

	t.Setenv("ANY_RETRACE", "true")
	t.Setenv("RECORD_WINDOW", "0")
	cfg = Load()
	sw := cfg.Swing()
	assert.True(t, sw.AnyRetrace)
	assert.Equal(t, 0, sw.RecordWindow)

	// A per-symbol threshold wins over the global "any retrace".
	tuned := SymbolOverride{RetracePct: 3}.Apply(sw)
	assert.False(t, tuned.AnyRetrace)
	assert.Equal(t, 3.0, tuned.RetracePct)
}

func TestLoad_WebhookHeaders(t *testing.T) {
	t.Setenv("WEBHOOK_HEADERS", "Authorization: Bearer abc:def; X-Team:ops ; broken;")
	cfg := Load()
	assert.Equal(t, map[string]string{
		"Authorization": "Bearer abc:def",
		"X-Team":        "ops",
	}, cfg.WebhookHeaders)

	t.Setenv("WEBHOOK_HEADERS", "")
	assert.Nil(t, Load().WebhookHeaders)
}
