package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

type fakeBus struct {
	mu     sync.Mutex
	subs   map[string]chan []byte
	ledger []domain.StreamMessage
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.ledger {
		if streamMS(m.ID) > streamMS(lastID) && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *fakeBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func streamMS(id string) int64 {
	ms, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseInt(ms, 10, 64)
	return n
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_ReplayAndRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &fakeBus{
		subs: make(map[string]chan []byte),
		ledger: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"type":"queued"}`)},
			{ID: "2-0", Payload: []byte(`{"type":"approved"}`)},
		},
	}
	h := NewHub(bus, "server", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = h.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribed() == 3 }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?since=1-0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "status", readEnvelope(t, conn).Channel)

	replayed := readEnvelope(t, conn)
	assert.Equal(t, ChannelLedger, replayed.Channel)
	assert.Equal(t, "2-0", replayed.ID)
	assert.JSONEq(t, `{"type":"approved"}`, string(replayed.Data))

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"id":"t1","status":"bought"}`)))
	relayed := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelTrades, relayed.Channel)
	assert.JSONEq(t, `{"id":"t1","status":"bought"}`, string(relayed.Data))

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTrades}}))
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			if c.isSubscribed(domain.ChannelTrades) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"id":"t2"}`)))
	require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, []byte(`{"id":"p1"}`)))
	assert.Equal(t, domain.ChannelPositions, readEnvelope(t, conn).Channel)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	bus := &fakeBus{subs: make(map[string]chan []byte)}
	h := NewHub(bus, "server", []string{"https://dash.example"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// gatedBus blocks the first ledger read from since until release is closed.
type gatedBus struct {
	*fakeBus
	since    string
	started  chan struct{}
	release  chan struct{}
	gateOnce sync.Once
}

func (g *gatedBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == g.since {
		g.gateOnce.Do(func() {
			close(g.started)
			<-g.release
		})
	}
	return g.fakeBus.StreamRead(ctx, stream, lastID, count)
}

func TestHub_ReplayPrecedesLiveLedger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &gatedBus{
		fakeBus: &fakeBus{
			subs: make(map[string]chan []byte),
			ledger: []domain.StreamMessage{
				{ID: "1-0", Payload: []byte(`{"type":"queued"}`)},
				{ID: "2-0", Payload: []byte(`{"type":"approved"}`)},
			},
		},
		since:   "1-0",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := NewHub(bus, "server", nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = h.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribed() == 3 }, 2*time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?since=1-0", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "status", readEnvelope(t, conn).Channel)
	select {
	case <-bus.started:
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not start")
	}

	// Live ledger entries arrive mid-replay; 2-0 overlaps the replayed range.
	h.broadcast <- envelope{Channel: ChannelLedger, ID: "2-0", Data: []byte(`{"type":"approved"}`)}
	h.broadcast <- envelope{Channel: ChannelLedger, ID: "3-0", Data: []byte(`{"type":"bought"}`)}
	h.broadcast <- envelope{Channel: domain.ChannelTrades, Data: []byte(`{"id":"t1"}`)}

	// Non-ledger channels stay live, and arriving here proves the ledger
	// entries above were already handled by the hub.
	assert.Equal(t, domain.ChannelTrades, readEnvelope(t, conn).Channel)
	close(bus.release)

	var ids []string
	for range 2 {
		env := readEnvelope(t, conn)
		require.Equal(t, ChannelLedger, env.Channel)
		ids = append(ids, env.ID)
	}
	assert.Equal(t, []string{"2-0", "3-0"}, ids)

	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			c.mu.RLock()
			replaying := c.replaying
			c.mu.RUnlock()
			if replaying {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	h.broadcast <- envelope{Channel: ChannelLedger, ID: "4-0", Data: []byte(`{"type":"sold"}`)}
	live := readEnvelope(t, conn)
	assert.Equal(t, "4-0", live.ID)
}

func TestCompareStreamID(t *testing.T) {
	assert.Equal(t, -1, compareStreamID("1-0", "2-0"))
	assert.Equal(t, 1, compareStreamID("10-0", "9-5"))
	assert.Equal(t, -1, compareStreamID("5-1", "5-2"))
	assert.Equal(t, 0, compareStreamID("7-3", "7-3"))
}
