package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/locolive/notify/internal/domain"
	"github.com/locolive/notify/internal/notify"
	"github.com/locolive/notify/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 32

	DefaultActivityTimeout = 120 * time.Second
)

// ChannelVerifier checks a channel token presented on subscribe.
type ChannelVerifier interface {
	Verify(token, socketID, channel string) error
}

// HubConfig identifies the application sockets must connect to.
type HubConfig struct {
	AppKey          string
	Cluster         string
	ActivityTimeout time.Duration
}

// Client is one websocket connection.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// channels is owned by the hub loop.
	channels map[string]bool
}

type subscription struct {
	client  *Client
	channel string
	join    bool
}

// Hub tracks sockets and the private channels they joined, and fans
// published events out to every socket on a channel.
type Hub struct {
	cfg      HubConfig
	verifier ChannelVerifier
	upgrader websocket.Upgrader
	logger   *zap.Logger

	register   chan *Client
	unregister chan *Client
	subs       chan subscription
	done       chan struct{}

	mu       sync.RWMutex
	clients  map[*Client]bool
	channels map[string]map[*Client]bool
}

var _ domain.Broadcaster = (*Hub)(nil)

func NewHub(cfg HubConfig, verifier ChannelVerifier, logger *zap.Logger) *Hub {
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = DefaultActivityTimeout
	}
	return &Hub{
		cfg:      cfg,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Subscriptions are gated by channel tokens, not by origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subs:       make(chan subscription),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
	}
}

// Run owns membership changes until ctx is done, then disconnects every
// socket.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.remove(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			c.queueEvent(realtime.EventConnectionEstablished, "", realtime.ConnectionData{
				SocketID:        c.ID,
				ActivityTimeout: int(h.cfg.ActivityTimeout / time.Second),
			})
			h.logger.Debug("socket connected", zap.String("socket_id", c.ID))

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()
			h.logger.Debug("socket disconnected", zap.String("socket_id", c.ID))

		case s := <-h.subs:
			h.mu.Lock()
			if !h.clients[s.client] {
				h.mu.Unlock()
				continue
			}
			if s.join {
				members, ok := h.channels[s.channel]
				if !ok {
					members = make(map[*Client]bool)
					h.channels[s.channel] = members
				}
				members[s.client] = true
				s.client.channels[s.channel] = true
			} else {
				h.leave(s.client, s.channel)
			}
			h.mu.Unlock()
			if s.join {
				s.client.queueEvent(realtime.EventSubscriptionSucceeded, s.channel, nil)
			}
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for channel := range c.channels {
		h.leave(c, channel)
	}
	close(c.send)
}

// leave must be called with h.mu held.
func (h *Hub) leave(c *Client, channel string) {
	delete(c.channels, channel)
	if members, ok := h.channels[channel]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Publish sends one event frame to every socket on channel and returns how
// many accepted it. Sockets whose buffer is full are disconnected.
func (h *Hub) Publish(channel, event string, data any) int {
	msg, err := realtime.NewMessage(event, channel, data)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for c := range h.channels[channel] {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.logger.Warn("socket too slow, disconnecting", zap.String("socket_id", c.ID))
			c.conn.Close()
		}
	}
	return delivered
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades GET /app/{key}?cluster=&protocol= to a socket.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "key") != h.cfg.AppKey {
		http.Error(w, "unknown app key", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if cluster := q.Get("cluster"); cluster != "" && cluster != h.cfg.Cluster {
		http.Error(w, "unknown cluster", http.StatusNotFound)
		return
	}
	if p := q.Get("protocol"); p != "" && p != realtime.ProtocolVersion {
		http.Error(w, "unsupported protocol version", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		ID:       uuid.NewString(),
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// queueEvent buffers a frame for this socket only, dropping it when the
// socket is gone or its buffer is full.
func (c *Client) queueEvent(event, channel string, data any) {
	msg, err := realtime.NewMessage(event, channel, data)
	if err != nil {
		return
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	timeout := c.hub.cfg.ActivityTimeout + writeWait
	c.conn.SetReadLimit(maxMessageSize)
	for {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		var msg realtime.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("socket read failed", zap.String("socket_id", c.ID), zap.Error(err))
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg realtime.Message) {
	switch msg.Event {
	case realtime.EventPing:
		c.queueEvent(realtime.EventPong, "", nil)

	case realtime.EventSubscribe:
		var data realtime.SubscribeData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Channel == "" {
			c.queueEvent(realtime.EventError, "", realtime.ErrorData{Code: 4000, Message: "malformed subscribe"})
			return
		}
		if _, ok := notify.ChannelOwner(data.Channel); !ok {
			c.queueEvent(realtime.EventSubscriptionError, data.Channel, realtime.ErrorData{Code: 4009, Message: "unknown channel"})
			return
		}
		if err := c.hub.verifier.Verify(data.Auth, c.ID, data.Channel); err != nil {
			c.hub.logger.Debug("channel auth rejected", zap.String("socket_id", c.ID), zap.String("channel", data.Channel))
			c.queueEvent(realtime.EventSubscriptionError, data.Channel, realtime.ErrorData{Code: 4009, Message: "invalid channel auth"})
			return
		}
		c.hub.enqueueSub(subscription{client: c, channel: data.Channel, join: true})

	case realtime.EventUnsubscribe:
		var data realtime.SubscribeData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Channel == "" {
			return
		}
		c.hub.enqueueSub(subscription{client: c, channel: data.Channel})

	default:
		c.queueEvent(realtime.EventError, "", realtime.ErrorData{Code: 4001, Message: "unsupported event " + msg.Event})
	}
}

func (h *Hub) enqueueSub(s subscription) {
	select {
	case h.subs <- s:
	case <-h.done:
	}
}

// writePump sends each queued frame as its own websocket message.
func (c *Client) writePump() {
	defer c.conn.Close()

	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
