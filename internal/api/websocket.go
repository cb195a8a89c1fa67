package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/locator"
)

// Frame types on the event stream.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameEvent       = "event"
	FrameAck         = "response"
	FrameError       = "error"
)

// AllEvents subscribes a client to every event type.
const AllEvents = "*"

// clientQueueSize is how many frames may wait for a slow client before
// new ones are dropped.
const clientQueueSize = 256

// Frame is one JSON message on the event stream, in either direction.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Channels is the payload of subscribe and unsubscribe frames.
type Channels struct {
	Channels []string `json:"channels"`
}

// inboundFrame defers payload decoding until the type is known.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans locator events out to WebSocket clients by event type.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*wsClient]struct{})}
}

var _ locator.EventSink = (*Hub)(nil)

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// HandleEvent sends ev to clients subscribed to its type. Slow clients
// lose frames rather than hold up the locator.
func (h *Hub) HandleEvent(_ context.Context, ev locator.Event) {
	h.Publish(string(ev.Type), ev)
}

// Publish sends payload as an event frame on channel.
func (h *Hub) Publish(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:      FrameEvent,
		EventType: channel,
		Timestamp: stamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding event frame failed", "channel", channel, "error", err)
		return
	}

	n := 0
	for _, c := range h.snapshot() {
		if c.wants(channel) && c.enqueue(data) {
			n++
		}
	}
	if n > 0 {
		h.logger.Debug("event published", "channel", channel, "recipients", n)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*wsClient {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user_id", c.principal.UserID, "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "user_id", c.principal.UserID, "clients", n)
}

// wsClient is one connection. Its queue is never closed; done signals the
// writer to stop instead, so senders cannot panic on a closed channel.
type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	principal auth.Principal
	queue     chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close() //nolint:errcheck // connection is being discarded
	})
}

// enqueue reports whether data was queued.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exact := c.subs[channel]
	_, all := c.subs[AllEvents]
	return exact || all
}

func (c *wsClient) reply(id, typ string, payload any) {
	data, err := json.Marshal(Frame{Type: typ, ID: id, Timestamp: stamp(), Payload: payload})
	if err == nil {
		c.enqueue(data)
	}
}

func (c *wsClient) replyError(id, message string) {
	c.reply(id, FrameError, map[string]string{"message": message})
}

// read handles client frames until the connection drops. Any frame, not
// only a pong, extends the read deadline, since browsers cannot send pings.
func (c *wsClient) read(cfg config.WebSocketConfig) {
	defer c.hub.remove(c)

	idle := (cfg.PingInterval + cfg.PongTimeout).Duration()
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetPongHandler(extend)
	_ = extend("") //nolint:errcheck // a failed deadline surfaces on the next read

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "user_id", c.principal.UserID, "error", err)
			}
			return
		}
		_ = extend("") //nolint:errcheck // as above
		c.dispatch(data)
	}
}

// write drains the queue and pings on cfg.PingInterval.
func (c *wsClient) write(cfg config.WebSocketConfig) {
	ping := time.NewTicker(cfg.PingInterval.Duration())
	defer ping.Stop()
	deadline := cfg.PongTimeout.Duration()

	send := func(kind int, data []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(deadline)) //nolint:errcheck // write reports the failure
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-c.done:
			send(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case data := <-c.queue:
			if !send(websocket.TextMessage, data) {
				c.close()
				return
			}
		case <-ping.C:
			if !send(websocket.PingMessage, nil) {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch in.Type {
	case FramePing:
		c.reply(in.ID, FramePong, nil)
	case FrameSubscribe, FrameUnsubscribe:
		var ch Channels
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &ch) != nil {
			c.replyError(in.ID, "payload must be {\"channels\": [...]}")
			return
		}
		c.mu.Lock()
		for _, name := range ch.Channels {
			if in.Type == FrameSubscribe {
				c.subs[name] = struct{}{}
			} else {
				delete(c.subs, name)
			}
		}
		c.mu.Unlock()
		c.reply(in.ID, FrameAck, map[string]any{in.Type + "d": ch.Channels})
	default:
		c.replyError(in.ID, "unknown message type: "+in.Type)
	}
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// handleWebSocket upgrades an authenticated request to the event stream.
// Browsers cannot set headers on a WebSocket, so the caller presents a
// ticket from POST /auth/ws-ticket instead of a bearer token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	who, ok := s.tickets.redeem(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	c := &wsClient{
		hub:       s.hub,
		conn:      conn,
		principal: who,
		queue:     make(chan []byte, clientQueueSize),
		done:      make(chan struct{}),
		subs:      make(map[string]struct{}),
	}
	s.hub.add(c)
	go c.write(s.wsCfg)
	go c.read(s.wsCfg)
}
