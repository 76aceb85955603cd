// Package ws streams mirrored pipeline events to browser clients over
// a gorilla/websocket hub.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tessera-trading/advisor/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxMessageSize = 4096
	sendBufferSize = 256

	// catchupCount caps how many retained stream entries a fresh client
	// is replayed before live traffic takes over.
	catchupCount = 256
)

// Every pipeline event is mirrored on "events:<type>"; new clients
// start on the wildcard and narrow down from there.
var defaultChannels = []string{"events:*"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API's CORS allowlist is the real gate; the upgrade itself
	// accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection plus its channel subscriptions.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is the control frame clients send to adjust what they
// receive.
type subscribeMsg struct {
	Action   string   `json:"action"`   // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. "events:signal.proposed"
}

// frame pairs a payload with the mirror channel it arrived on so the
// hub can route it to the right subscribers.
type frame struct {
	channel string
	data    []byte
}

// Hub fans mirrored events out to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	mirror     domain.EventMirror
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	stream     string
}

// Config is the runtime metadata included in the greeting sent to each
// client on connect. CatchupStream, when set, names the mirror stream
// whose retained tail is replayed to every fresh client.
type Config struct {
	Mode          string
	StartedAt     time.Time
	CatchupStream string
}

func NewHub(mirror domain.EventMirror, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		mirror:     mirror,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
		stream:     cfg.CatchupStream,
	}
}

// Run is the hub loop: register, unregister, broadcast. Call it in a
// goroutine; it returns when the context ends, closing every client.
func (h *Hub) Run(ctx context.Context) error {
	for _, pattern := range defaultChannels {
		go h.pump(ctx, pattern)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case fr := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(fr.channel) {
					continue
				}
				select {
				case c.send <- fr.data:
				default:
					// Full buffer means a stalled reader; drop rather
					// than block the hub.
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump forwards one mirror pattern subscription into the broadcast
// channel until the subscription or the context ends.
func (h *Hub) pump(ctx context.Context, pattern string) {
	msgCh, err := h.mirror.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to pattern",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed to pattern", slog.String("pattern", pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: mirror subscription closed", slog.String("pattern", pattern))
				return
			}
			h.broadcast <- frame{channel: msg.Channel, data: msg.Payload}
		}
	}
}

// HandleWS upgrades the request and hands the connection to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	h.register <- c
	c.greet()
	h.replayBacklog(r.Context(), c)

	go c.writeLoop()
	go c.readLoop()
}

// replayBacklog queues the retained tail of the mirror stream so a
// fresh client sees recent history before live frames. The stream is
// trimmed broker-side, so reading from the start covers at most the
// retention window.
func (h *Hub) replayBacklog(ctx context.Context, c *client) {
	if h.stream == "" {
		return
	}
	entries, err := h.mirror.StreamRead(ctx, h.stream, "0", catchupCount)
	if err != nil {
		h.logger.Warn("ws: backlog read failed",
			slog.String("stream", h.stream),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, entry := range entries {
		select {
		case c.send <- entry.Payload:
		default:
			// Buffer full; the client keeps the backlog it got.
			return
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readLoop consumes client frames, which are only ever subscription
// control messages, and keeps the pong deadline fresh.
func (c *client) readLoop() {
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil &&
			(sub.Action != "" || len(sub.Channels) > 0) {
			c.resubscribe(sub)
		}
	}
}

func (c *client) resubscribe(msg subscribeMsg) {
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

// greet sends a status envelope right after connect so dashboards can
// show a healthy link before any event flows.
func (c *client) greet() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "advisor_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
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

// wants reports whether the client subscribed to channel, either
// exactly or through a trailing-* wildcard.
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if strings.HasSuffix(sub, "*") && strings.HasPrefix(channel, sub[:len(sub)-1]) {
			return true
		}
	}
	return false
}

// writeLoop drains the send buffer as text frames and pings on a
// timer to keep the connection alive.
func (c *client) writeLoop() {
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
