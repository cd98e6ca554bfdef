package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/model"
)

func sampleEvent(typ model.EventType, symbol string) model.TrendEvent {
	return model.TrendEvent{
		Type:   typ,
		Symbol: symbol,
		TS:     time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		Trend:  "DOWN",
		Close:  98,
		Level:  99,
		CoC:    120,
		Stable: true,
	}
}

type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return c.err
}

func TestAlertFromEvent(t *testing.T) {
	rev := AlertFromEvent(sampleEvent(model.EventReversal, "NIFTY"))
	assert.Equal(t, AlertWarning, rev.Level)
	assert.Equal(t, "NIFTY reversed to DOWN", rev.Title)
	assert.Contains(t, rev.Message, "broke CoC 99")
	assert.Equal(t, "REVERSAL", rev.Event)

	ev := sampleEvent(model.EventBreakout, "TCS")
	ev.Stable = false
	bo := AlertFromEvent(ev)
	assert.Equal(t, AlertInfo, bo.Level)
	assert.Contains(t, bo.Message, "not yet stable")
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL).WithHeader("Authorization", "Bearer xyz")
	require.NoError(t, n.Send(context.Background(), AlertFromEvent(sampleEvent(model.EventReversal, "NIFTY"))))

	assert.Equal(t, "Bearer xyz", auth)
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "NIFTY", got["symbol"])
	assert.Equal(t, "REVERSAL", got["event"])
	assert.NotEmpty(t, got["ts"])
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, n.Send(context.Background(), AlertFromEvent(sampleEvent(model.EventBreakout, "NSE:NIFTY 50"))))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.True(t, strings.Contains(body["text"].(string), `\#NSE\_NIFTY\_50`), body["text"])
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `close 98\.5 \(CoC\)`, escapeMarkdown("close 98.5 (CoC)"))
}

func TestDispatcher_FanOutAndThrottle(t *testing.T) {
	a, b := &captureNotifier{}, &captureNotifier{err: errors.New("down")}
	d := NewDispatcher(time.Hour, 2)
	d.Add("log", a)
	d.Add("webhook", b)

	var sent []string
	var throttled int
	d.OnSent = func(ch string) { sent = append(sent, ch) }
	d.OnThrottled = func() { throttled++ }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := d.Notify(ctx, sampleEvent(model.EventBreakout, "NIFTY"))
		if i < 2 {
			assert.True(t, ok)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "webhook: down")
		} else {
			assert.False(t, ok, "third alert within the hour must be throttled")
			assert.NoError(t, err)
		}
	}

	// Throttling is per symbol.
	ok, _ := d.Notify(ctx, sampleEvent(model.EventBreakout, "TCS"))
	assert.True(t, ok)

	assert.Len(t, a.alerts, 3)
	assert.Equal(t, []string{"log", "log", "log"}, sent)
	assert.Equal(t, 1, throttled)
}

func TestDispatcher_Run(t *testing.T) {
	c := &captureNotifier{}
	d := NewDispatcher(0, 0)
	d.Add("capture", c)

	events := make(chan model.TrendEvent, 3)
	for i := 0; i < 3; i++ {
		events <- sampleEvent(model.EventReversal, "NIFTY")
	}
	close(events)

	d.Run(context.Background(), events)
	assert.Len(t, c.alerts, 3)
}
