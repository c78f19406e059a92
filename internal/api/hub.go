package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/smartgrow/growd/internal/eventbus"
)

// Send/receive timing and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12

	typeStateInit = "state_init"
)

// pushedEvents are forwarded from the bus to every client.
var pushedEvents = []eventbus.EventType{
	eventbus.EventTypeStateChanged,
	eventbus.EventTypeNotificationChanged,
	eventbus.EventTypePulseChanged,
	eventbus.EventTypeReservoirStatus,
}

// envelope is the wire format of every WebSocket frame.
type envelope struct {
	Type string    `json:"type"`
	Ts   time.Time `json:"ts"`
	Data any       `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HubConfig sizes the hub queues. Zero values use defaults.
type HubConfig struct {
	SendBuf      int
	BroadcastBuf int
}

// Hub fans bus events out to connected WebSocket clients. Each event
// carries a full value, so an event older than the last one broadcast for
// its type is dropped. Clients that cannot keep up are disconnected.
type Hub struct {
	snapshot func() Snapshot

	broadcast  chan []byte
	unregister chan *Client
	sendBuf    int

	mu      sync.Mutex
	clients map[*Client]struct{}
	lastSeq map[eventbus.EventType]uint64
	closed  bool
}

// NewHub creates a Hub. snapshot produces the state_init payload for new
// clients. Call Run to start it.
func NewHub(cfg HubConfig, snapshot func() Snapshot) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		snapshot:   snapshot,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		unregister: make(chan *Client, 64),
		sendBuf:    cfg.SendBuf,
		clients:    make(map[*Client]struct{}),
		lastSeq:    make(map[eventbus.EventType]uint64),
	}
}

// SubscribeTo registers the hub for every pushed event type on bus.
func (h *Hub) SubscribeTo(bus Subscriber) {
	for _, t := range pushedEvents {
		bus.Subscribe(t, h.HandleEvent)
	}
}

// HandleEvent encodes ev and queues it for broadcast.
func (h *Hub) HandleEvent(ev eventbus.Event) {
	msg, err := encode(string(ev.Type), ev.At, ev.Data)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("Failed to encode WebSocket event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= h.lastSeq[ev.Type] {
		log.Debug().
			Str("event_type", string(ev.Type)).
			Uint64("seq", ev.Seq).
			Msg("Dropping out-of-order event")
		return
	}
	h.lastSeq[ev.Type] = ev.Seq

	select {
	case h.broadcast <- msg:
	default:
		log.Warn().Str("event_type", string(ev.Type)).Msg("WebSocket broadcast queue full, dropping event")
	}
}

// Run processes broadcasts until ctx is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case c := <-h.unregister:
			h.remove(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.remove(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// attach queues the state_init frame for c and registers it. The snapshot
// is taken under the hub lock so no broadcast can slip in ahead of it.
func (h *Hub) attach(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.New("hub closed")
	}
	msg, err := encode(typeStateInit, time.Now(), h.snapshot())
	if err != nil {
		return err
	}
	c.send <- msg
	h.clients[c] = struct{}{}
	log.Info().Str("remote_addr", c.remoteAddr).Int("clients", len(h.clients)).Msg("WebSocket client connected")
	return nil
}

func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		log.Info().Str("remote_addr", c.remoteAddr).Str("reason", reason).Int("clients", n).Msg("WebSocket client disconnected")
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

func encode(eventType string, ts time.Time, data any) ([]byte, error) {
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(envelope{Type: eventType, Ts: ts.UTC(), Data: data})
}

// Client is one WebSocket connection.
type Client struct {
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	closeOnce  sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: remoteAddr,
	}
}

// close closes the connection and signals writePump to exit.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

// writePump writes queued frames and pings until send is closed or a write
// fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Str("remote_addr", c.remoteAddr).Msg("WebSocket write failed")
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("remote_addr", c.remoteAddr).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

// readPump drains incoming frames to process control messages and detect
// disconnects.
func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				log.Debug().Int("code", ce.Code).Str("remote_addr", c.remoteAddr).Msg("WebSocket closed by client")
			}
			return
		}
	}
}

func (s *Server) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn, c.Request.RemoteAddr)
	if err := s.hub.attach(client); err != nil {
		log.Warn().Err(err).Msg("WebSocket client rejected")
		_ = conn.Close()
		return
	}

	go client.writePump()
	client.readPump()

	select {
	case s.hub.unregister <- client:
	default:
		s.hub.remove(client, "unregister")
	}
}
