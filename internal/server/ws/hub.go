// Package ws relays lifecycle events from the signal bus to dashboard
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	// ledger tailing and replay
	ledgerPoll      = time.Second
	ledgerPage      = 200
	maxReplayEvents = 2000
)

// ChannelLedger carries trade events read from the durable ledger stream.
// Its messages include the stream ID so a reconnecting client can resume
// with /ws?since=<id>.
const ChannelLedger = domain.StreamLedger

// Channels are the bus channels relayed to clients.
var Channels = []string{
	domain.ChannelTrades,
	domain.ChannelPositions,
	domain.ChannelSellOrders,
	ChannelLedger,
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex

	// While replaying, live ledger entries are held and flushed after the
	// replayed ones.
	replaying bool
	held      []envelope
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// envelope wraps a bus payload with its channel.
type envelope struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Hub manages connected WebSocket clients and broadcasts bus messages to the
// clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a hub fed by bus. allowedOrigins restricts the upgrade; an
// empty list accepts any origin.
func NewHub(bus domain.SignalBus, mode string, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range Channels {
		if ch == ChannelLedger {
			continue
		}
		go h.subscribeToChannel(ctx, ch)
	}
	go h.tailLedger(ctx, fmt.Sprintf("%d-0", time.Now().UnixMilli()))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.Channel) || c.hold(msg) {
					continue
				}
				select {
				case c.send <- data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", channel))
				return
			}
			if !json.Valid(data) {
				continue
			}
			select {
			case h.broadcast <- envelope{Channel: channel, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// tailLedger polls the ledger stream from lastID and broadcasts new
// entries. Stream IDs start with a millisecond timestamp, so starting at
// the current time skips history.
func (h *Hub) tailLedger(ctx context.Context, lastID string) {
	ticker := time.NewTicker(ledgerPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		msgs, err := h.bus.StreamRead(ctx, domain.StreamLedger, lastID, ledgerPage)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Warn("ws: ledger read failed", slog.String("error", err.Error()))
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			if !json.Valid(m.Payload) {
				continue
			}
			select {
			case h.broadcast <- envelope{Channel: ChannelLedger, ID: m.ID, Data: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// replay sends ledger entries after since to one client, oldest first, then
// releases the live entries held meanwhile.
func (h *Hub) replay(c *client, since string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	last := since
	defer func() { c.finishReplay(last) }()

	sent := 0
	for sent < maxReplayEvents {
		msgs, err := h.bus.StreamRead(ctx, domain.StreamLedger, last, ledgerPage)
		if err != nil {
			h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, m := range msgs {
			if !json.Valid(m.Payload) {
				last = m.ID
				continue
			}
			data, err := json.Marshal(envelope{Channel: ChannelLedger, ID: m.ID, Data: m.Payload})
			if err != nil {
				last = m.ID
				continue
			}
			if !c.sendWait(ctx, data) {
				return
			}
			last = m.ID
			sent++
		}
	}
}

// compareStreamID orders stream IDs of the form "<ms>-<seq>".
func compareStreamID(a, b string) int {
	am, as := splitStreamID(a)
	bm, bs := splitStreamID(b)
	switch {
	case am != bm:
		if am < bm {
			return -1
		}
		return 1
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func splitStreamID(id string) (ms, seq uint64) {
	a, b, _ := strings.Cut(id, "-")
	ms, _ = strconv.ParseUint(a, 10, 64)
	seq, _ = strconv.ParseUint(b, 10, 64)
	return ms, seq
}

// HandleWS upgrades the request and registers the client on every channel.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(Channels)),
	}
	for _, ch := range Channels {
		c.subs[ch] = true
	}
	since := r.URL.Query().Get("since")
	c.replaying = since != ""

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("total_clients", n))

	c.sendStatus()
	if c.replaying {
		go h.replay(c, since)
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.applySubscription(sub)
		}
	}
}

func (c *client) applySubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendStatus greets a new client so it can mark the connection healthy
// before any lifecycle event arrives.
func (c *client) sendStatus() {
	msg, err := json.Marshal(map[string]any{
		"channel": "status",
		"data": map[string]any{
			"mode":           c.hub.mode,
			"channels":       Channels,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// trySend queues data unless the client is gone or its buffer is full.
// The hub closes send under h.mu, so holding the read lock makes the
// membership check and the send atomic.
func (c *client) trySend(data []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendWait retries trySend while the client's buffer is full.
func (c *client) sendWait(ctx context.Context, data []byte) bool {
	for !c.trySend(data) {
		if !c.connected() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return true
}

func (c *client) connected() bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.hub.clients[c]
}

// hold keeps a live ledger entry back while the client is replaying. The
// caller holds h.mu.
func (c *client) hold(msg envelope) bool {
	if msg.Channel != ChannelLedger {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.replaying {
		return false
	}
	if len(c.held) < maxReplayEvents {
		c.held = append(c.held, msg)
	}
	return true
}

// finishReplay flushes held entries newer than last and switches the client
// to live delivery. Both locks are taken in the broadcast order so no live
// entry can overtake the flush.
func (c *client) finishReplay(last string) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	held := c.held
	c.held, c.replaying = nil, false
	if !c.hub.clients[c] {
		return
	}
	for _, msg := range held {
		if compareStreamID(msg.ID, last) <= 0 {
			continue
		}
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			c.hub.logger.Warn("ws: dropping held ledger entry for slow client", slog.String("id", msg.ID))
		}
	}
}

func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
