// Package ws streams battle events from the signal bus to websocket clients
// such as the Telegram and Discord bot front ends.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/memebattle/internal/domain"
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

	// maxReplay caps how many stored events one replay request returns.
	maxReplay = 500
)

// busChannels are the signal bus channels the hub relays.
var busChannels = []string{
	domain.ChannelBattles,
	domain.ChannelPayments,
	domain.ChannelRefunds,
}

// Config holds the hub settings.
type Config struct {
	// Mode is reported to clients in the hello frame.
	Mode string
	// AllowedOrigins restricts browser origins. Empty allows all.
	AllowedOrigins []string
}

// Hub manages connected websocket clients and broadcasts bus events to the
// clients subscribed to their channel or battle.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	upgrader   websocket.Upgrader
	mode       string
	startedAt  time.Time
	mu         sync.RWMutex
	subscribed atomic.Int32
	logger     *slog.Logger
}

// envelope is the frame sent to clients for every relayed event.
type envelope struct {
	Channel  string          `json:"channel"`
	StreamID string          `json:"streamId,omitempty"`
	Event    json.RawMessage `json:"event"`

	battleID string
}

// clientMsg is what a client may send: subscription changes or a replay of
// the durable event stream.
//
//	{"action":"subscribe","channels":["refunds"],"battles":["6f1c..."]}
//	{"action":"replay","since":"1700000000000-0"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Battles  []string `json:"battles"`
	Since    string   `json:"since"`
}

// NewHub creates a hub that bridges bus to connected websocket clients.
func NewHub(bus domain.EventBus, cfg Config, logger *slog.Logger) *Hub {
	mode := cfg.Mode
	if mode == "" {
		mode = "unknown"
	}
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		mode:       mode,
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws")),
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(origins) == 0 {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run starts the hub's main event loop. It returns when ctx is cancelled,
// after closing every client.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		msgs, err := h.bus.Subscribe(ctx, ch)
		if err != nil {
			return err
		}
		h.subscribed.Add(1)
		go h.relay(ctx, ch, msgs)
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
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case env := <-h.broadcast:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(env.Channel, env.battleID) {
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

// relay forwards one bus subscription into the broadcast loop.
func (h *Hub) relay(ctx context.Context, channel string, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			env := envelope{Channel: channel, Event: data, battleID: battleIDOf(data)}
			select {
			case h.broadcast <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a websocket connection and registers
// the client with the hub. ?battle=<id> limits the stream to one battle.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		subs:    make(map[string]bool, len(busChannels)),
		battles: make(map[string]bool),
	}
	for _, ch := range busChannels {
		c.subs[ch] = true
	}
	for _, id := range r.URL.Query()["battle"] {
		if id != "" {
			c.battles[id] = true
		}
	}

	h.register <- c
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// battleIDOf pulls the battle id out of an event payload.
func battleIDOf(data []byte) string {
	var evt struct {
		BattleID string `json:"battleId"`
	}
	if err := json.Unmarshal(data, &evt); err != nil {
		return ""
	}
	return evt.BattleID
}

// client represents a single websocket connection.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.RWMutex
	subs    map[string]bool
	battles map[string]bool // empty means every battle
}

// wants reports whether an event on channel about battleID goes to c.
// Battle-less events such as fee updates pass the battle filter.
func (c *client) wants(channel, battleID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.subs[channel] {
		return false
	}
	if len(c.battles) == 0 || battleID == "" {
		return true
	}
	return c.battles[battleID]
}

// readPump reads client frames until the connection drops.
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var msg clientMsg
		if json.Unmarshal(message, &msg) != nil {
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg clientMsg) {
	switch msg.Action {
	case "subscribe", "unsubscribe":
		on := msg.Action == "subscribe"
		c.mu.Lock()
		for _, ch := range msg.Channels {
			if on {
				c.subs[ch] = true
			} else {
				delete(c.subs, ch)
			}
		}
		for _, id := range msg.Battles {
			if on {
				c.battles[id] = true
			} else {
				delete(c.battles, id)
			}
		}
		c.mu.Unlock()
	case "replay":
		c.replay(msg.Since)
	}
}

// replay sends stored events after since from the durable battle stream so a
// reconnecting client can catch up.
func (c *client) replay(since string) {
	if since == "" {
		since = "0"
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamBattles, since, maxReplay)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		id := battleIDOf(m.Payload)
		if !c.wants(domain.ChannelBattles, id) {
			continue
		}
		data, err := json.Marshal(envelope{Channel: domain.StreamBattles, StreamID: m.ID, Event: m.Payload})
		if err != nil {
			continue
		}
		if !c.trySend(data) {
			return
		}
	}
}

// sendHello pushes a status frame so clients can mark the connection live
// before any battle event flows.
func (c *client) sendHello() {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"channels":       busChannels,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	c.trySend(msg)
}

// trySend queues data unless the buffer is full or the client is gone.
func (c *client) trySend(data []byte) (ok bool) {
	defer func() {
		// send is closed once the hub drops the client.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump pumps messages from the hub to the websocket connection as text
// frames and sends periodic pings.
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
