package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/config"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/logging"
)

// Message types of the client protocol.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// Frames queued per client before new ones are dropped.
	wsSendBufferSize = 256
)

// Event channels clients can subscribe to.
const (
	ChannelSlotStateChanged    = "slot.state_changed"
	ChannelBridgeStatusChanged = "bridge.status_changed"
)

// WSMessage is one frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload carries the channels of a subscribe or unsubscribe.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

var knownChannels = map[string]struct{}{
	ChannelSlotStateChanged:    {},
	ChannelBridgeStatusChanged: {},
}

// SnapshotFunc returns the current payload of a channel for a new
// subscriber, or false when the channel has no snapshot.
type SnapshotFunc func(channel string) (any, bool)

// Hub tracks connected clients and fans events out to subscribers.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	snapshotFn SnapshotFunc
	snapshotMu sync.RWMutex
}

func newEvent(channel string, payload any) WSMessage {
	return WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// WSClient is one connected browser or tool.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// CORS middleware has already vetted the origin.
		return true
	},
}

// NewHub returns an empty hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes client. Only the caller that finds it in the map
// closes its send channel, so repeated calls are safe.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// Broadcast delivers an event to every client subscribed to channel. The
// hub lock is released before any client lock is taken.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(newEvent(channel, payload))
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	recipients := 0
	for _, client := range h.subscribers(channel) {
		client.trySend(data)
		recipients++
	}
	if recipients > 0 {
		h.logger.Debug("broadcast sent", "channel", channel, "recipients", recipients)
	}
}

// subscribers returns the clients currently subscribed to channel.
func (h *Hub) subscribers(channel string) []*WSClient {
	h.mu.RLock()
	all := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		all = append(all, client)
	}
	h.mu.RUnlock()

	matched := all[:0]
	for _, client := range all {
		if client.isSubscribed(channel) {
			matched = append(matched, client)
		}
	}
	return matched
}

// SetSnapshot sets the provider of initial events for new subscribers.
func (h *Hub) SetSnapshot(fn SnapshotFunc) {
	h.snapshotMu.Lock()
	h.snapshotFn = fn
	h.snapshotMu.Unlock()
}

func (h *Hub) snapshot(channel string) (any, bool) {
	h.snapshotMu.RLock()
	fn := h.snapshotFn
	h.snapshotMu.RUnlock()
	if fn == nil {
		return nil, false
	}
	return fn(channel)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll drops every client. Closing send lets each writePump exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for client := range clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // shutdown
		}
	}
}

// wsTimings holds the keepalive durations derived from WebSocketConfig.
type wsTimings struct {
	ping     time.Duration
	pongWait time.Duration
	maxSize  int64
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	return wsTimings{
		ping:     time.Duration(cfg.PingInterval) * time.Second,
		pongWait: time.Duration(cfg.PongTimeout) * time.Second,
		maxSize:  int64(cfg.MaxMessageSize),
	}
}

// readDeadline is how long a connection may stay silent.
func (t wsTimings) readDeadline() time.Time {
	return time.Now().Add(t.ping + t.pongWait)
}

// handleWebSocket upgrades the request and registers a client with no
// subscriptions.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(client)

	timings := newWSTimings(s.wsCfg)
	go client.writePump(timings)
	go client.readPump(timings)
}

// readPump handles inbound messages until the connection fails. Every
// inbound frame, not only pongs, extends the read deadline.
func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // connection is done
	}()

	c.conn.SetReadLimit(t.maxSize)
	c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // checked on next read
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(t.readDeadline()) //nolint:errcheck // checked on next read
		c.handleMessage(data)
	}
}

// writePump drains send and pings on the configured interval. It returns
// when send is closed or a write fails.
func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // connection is done
	}()

	write := func(messageType int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client frame.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.queue(WSMessage{Type: WSTypePong, ID: msg.ID})
	default:
		c.sendError(msg.ID, fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

// decodeChannels extracts and validates the channel list of a
// subscribe or unsubscribe message.
func decodeChannels(msg WSMessage) ([]string, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid payload")
	}
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid %s payload", msg.Type)
	}
	if len(p.Channels) == 0 {
		return nil, fmt.Errorf("channels is required")
	}
	for _, ch := range p.Channels {
		if _, ok := knownChannels[ch]; !ok {
			return nil, fmt.Errorf("unknown channel: %s", ch)
		}
	}
	return p.Channels, nil
}

// handleSubscribe adds channels to the client. A new bridge.status_changed
// subscriber is sent the current status at once.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.setSubscribed(channels, true)
	c.hub.logger.Debug("websocket client subscribed", "channels", channels)
	c.queue(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{"subscribed": channels}})

	for _, ch := range channels {
		if payload, ok := c.hub.snapshot(ch); ok {
			c.queue(newEvent(ch, payload))
		}
	}
}

func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	channels, err := decodeChannels(msg)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	c.setSubscribed(channels, false)
	c.queue(WSMessage{Type: WSTypeResponse, ID: msg.ID, Payload: map[string]any{"unsubscribed": channels}})
}

func (c *WSClient) setSubscribed(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

// trySend queues data without blocking. Frames for a slow client are
// dropped, and a send racing with Unregister is absorbed.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on closed channel after disconnect
	}()

	select {
	case c.send <- data:
	default:
	}
}

// queue stamps and queues a single message for this client.
func (c *WSClient) queue(msg WSMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket message", "type", msg.Type, "error", err)
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.queue(WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}
