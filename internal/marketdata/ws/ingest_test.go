package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swingtrend/internal/model"
)

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{URL: "http://localhost:9001"})
	assert.Error(t, err)
	_, err = New(Config{URL: "ws://localhost:9001/candles"})
	assert.NoError(t, err)
}

func TestParseCandle(t *testing.T) {
	c, err := parseCandle([]byte(`{"symbol":"NIFTY","ts":"2024-01-15T14:45:00+05:30","open":1,"high":2,"low":0.5,"close":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, "NIFTY", c.Symbol)
	assert.Equal(t, time.UTC, c.TS.Location())
	assert.Equal(t, 9, c.TS.Hour())

	_, err = parseCandle([]byte(`{"ts":"2024-01-15T09:15:00Z"}`))
	assert.ErrorIs(t, err, errNoSymbol)
	_, err = parseCandle([]byte(`{"symbol":"NIFTY"}`))
	assert.Error(t, err)
	_, err = parseCandle([]byte(`not json`))
	assert.Error(t, err)
}

// feedServer sends each connection the next batch of frames, then hangs up.
type feedServer struct {
	mu      sync.Mutex
	batches [][]string
	subs    [][]string
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub subscribeMsg
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}

	f.mu.Lock()
	f.subs = append(f.subs, sub.Symbols)
	var frames []string
	if len(f.batches) > 0 {
		frames = f.batches[0]
		f.batches = f.batches[1:]
	}
	f.mu.Unlock()

	if frames == nil {
		// Last batch served: idle until the client goes away.
		conn.ReadMessage()
		return
	}
	for _, fr := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fr)); err != nil {
			return
		}
	}
}

func TestStart_StreamsAndReconnects(t *testing.T) {
	fs := &feedServer{batches: [][]string{
		{
			`{"symbol":"NIFTY","ts":"2024-01-15T09:15:00Z","open":100,"high":101,"low":99,"close":100.5}`,
			`garbage`,
			`{"symbol":"NIFTY","ts":"2024-01-15T09:16:00Z","open":100.5,"high":102,"low":100,"close":101}`,
		},
		{
			`{"symbol":"NIFTY","ts":"2024-01-15T09:17:00Z","open":101,"high":103,"low":100.5,"close":102}`,
		},
	}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ing, err := New(Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Symbols:           []string{"NIFTY"},
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	connects, drops := 0, 0
	ing.OnConnect = func() { mu.Lock(); connects++; mu.Unlock() }
	ing.OnDisconnect = func(error) { mu.Lock(); drops++; mu.Unlock() }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Candle, 10)
	done := make(chan error, 1)
	go func() { done <- ing.Start(ctx, out) }()

	var got []model.Candle
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case c := <-out:
			got = append(got, c)
		case <-timeout:
			t.Fatalf("received %d candles before timeout", len(got))
		}
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 15, got[0].TS.Minute())
	assert.Equal(t, 16, got[1].TS.Minute())
	assert.Equal(t, 17, got[2].TS.Minute())
	assert.Equal(t, 102.0, got[2].Close)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, connects, 2)
	assert.GreaterOrEqual(t, drops, 1)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(t, fs.subs)
	assert.Equal(t, []string{"NIFTY"}, fs.subs[0])
}
