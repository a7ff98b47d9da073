package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/chainauction/internal/clock"
	"github.com/alanyoungcy/chainauction/internal/service"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	countdownPrefix = "countdown:"
)

// defaultChannels are the channels every client starts out subscribed to.
var defaultChannels = []string{
	service.ChannelSession,
	service.ChannelSnapshot,
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Source is what the hub needs from the view model: the session for the
// greeting and per-auction countdowns.
type Source interface {
	Session() service.SessionView
	StartCountdown(ctx context.Context, id uint64, onTick func(service.CountdownView)) (*clock.Countdown, error)
}

// envelope is the JSON frame pushed to clients.
type envelope struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Payload any    `json:"payload"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	subs       map[string]bool
	countdowns map[uint64]*clock.Countdown
	closed     bool
}

// subscribeMsg is the JSON message a client sends to manage subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"`   // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // channel names
	// Short form: {"subscribe":["countdown:3"]}
	Subscribe   []string `json:"subscribe"`
	Unsubscribe []string `json:"unsubscribe"`
}

// Hub manages a set of connected WebSocket clients and fans published view
// model events out to the clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	network    string
	startedAt  time.Time

	srcMu  sync.RWMutex
	source Source
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Config captures metadata sent to WebSocket clients on connect.
type Config struct {
	Network   string
	StartedAt time.Time
}

// NewHub creates a new WebSocket hub. The view model is attached later with
// SetSource since it publishes through the hub.
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
		network:    network,
		startedAt:  startedAt,
	}
}

// SetSource attaches the view model. Safe to call from another goroutine.
func (h *Hub) SetSource(src Source) {
	h.srcMu.Lock()
	defer h.srcMu.Unlock()
	h.source = src
}

func (h *Hub) getSource() Source {
	h.srcMu.RLock()
	defer h.srcMu.RUnlock()
	return h.source
}

// Publish implements service.Publisher. It never blocks; when the broadcast
// buffer is full the message is dropped.
func (h *Hub) Publish(channel string, payload any) {
	data, err := json.Marshal(envelope{Type: channel, Payload: payload})
	if err != nil {
		h.logger.Error("ws: marshal failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: data}:
	default:
		h.logger.Warn("ws: broadcast buffer full, dropping message", slog.String("channel", channel))
	}
}

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting, and exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				c.shutdown()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.shutdown()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					c.enqueue(msg.data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		subs:       make(map[string]bool),
		countdowns: make(map[uint64]*clock.Countdown),
	}
	for _, ch := range defaultChannels {
		c.subs[ch] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr == nil &&
			(sub.Action != "" || len(sub.Channels) > 0 || len(sub.Subscribe) > 0 || len(sub.Unsubscribe) > 0) {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	add := append([]string(nil), msg.Subscribe...)
	remove := append([]string(nil), msg.Unsubscribe...)
	switch msg.Action {
	case "subscribe":
		add = append(add, msg.Channels...)
	case "unsubscribe":
		remove = append(remove, msg.Channels...)
	}

	for _, ch := range add {
		if id, ok := countdownID(ch); ok {
			c.startCountdown(id)
			continue
		}
		c.mu.Lock()
		c.subs[ch] = true
		c.mu.Unlock()
	}
	for _, ch := range remove {
		if id, ok := countdownID(ch); ok {
			c.stopCountdown(id)
			continue
		}
		c.mu.Lock()
		delete(c.subs, ch)
		c.mu.Unlock()
	}
}

func countdownID(channel string) (uint64, bool) {
	rest, ok := strings.CutPrefix(channel, countdownPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	return id, err == nil
}

// startCountdown starts a countdown owned by this client. Subscribing again
// while the countdown still ticks is a no-op; once it has delivered Ended a
// new subscription starts over and resends the final value.
func (c *client) startCountdown(id uint64) {
	src := c.hub.getSource()
	if src == nil {
		return
	}
	c.mu.RLock()
	running := c.countdownRunningLocked(id)
	closed := c.closed
	c.mu.RUnlock()
	if running || closed {
		return
	}

	channel := service.CountdownChannel(id)
	cd, err := src.StartCountdown(context.Background(), id, func(v service.CountdownView) {
		data, err := json.Marshal(envelope{Type: "countdown", Channel: channel, Payload: v})
		if err != nil {
			return
		}
		c.enqueue(data)
	})
	if err != nil {
		c.sendError(channel, err)
		return
	}

	c.mu.Lock()
	if c.countdownRunningLocked(id) || c.closed {
		c.mu.Unlock()
		cd.Stop()
		return
	}
	c.countdowns[id] = cd
	c.mu.Unlock()
}

// countdownRunningLocked reports whether the client holds a live countdown
// for id. c.mu must be held.
func (c *client) countdownRunningLocked(id uint64) bool {
	cd, ok := c.countdowns[id]
	return ok && cd.Running()
}

func (c *client) stopCountdown(id uint64) {
	c.mu.Lock()
	cd, ok := c.countdowns[id]
	delete(c.countdowns, id)
	c.mu.Unlock()
	if ok {
		cd.Stop()
	}
}

// shutdown stops the client's countdowns and closes its send channel. It is
// only called by the hub loop, at most once per client.
func (c *client) shutdown() {
	c.mu.Lock()
	countdowns := c.countdowns
	c.countdowns = make(map[uint64]*clock.Countdown)
	c.mu.Unlock()
	for _, cd := range countdowns {
		cd.Stop()
	}

	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

// enqueue hands a frame to the write pump, dropping it when the client is
// gone or its buffer is full.
func (c *client) enqueue(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("ws: dropping message for slow client")
	}
}

// sendHello pushes a small JSON envelope so clients can immediately render
// the session state and mark the connection as healthy.
func (c *client) sendHello() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	payload := map[string]any{
		"network":        c.hub.network,
		"ws_connected":   true,
		"uptime_seconds": uptime,
	}
	if src := c.hub.getSource(); src != nil {
		payload["session"] = src.Session()
	}
	msg, err := json.Marshal(envelope{Type: "hello", Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) sendError(channel string, err error) {
	msg, mErr := json.Marshal(envelope{Type: "error", Channel: channel, Payload: map[string]string{"error": err.Error()}})
	if mErr != nil {
		return
	}
	c.enqueue(msg)
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}

	// Wildcard match: "countdown:*" matches "countdown:12".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames, with periodic pings for keepalive.
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
				// The hub closed the channel.
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
