package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/randomchat-signaling/internal/matchmaking"
	"github.com/mossy-p/randomchat-signaling/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Large enough for SDP blobs.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// ConnectionCounter is notified for every accepted websocket.
type ConnectionCounter interface {
	Connected()
}

// Hub owns the live websocket connections, keyed by peer id, and is the
// transport side of the matchmaking service: it feeds inbound events to the
// service and delivers the resulting instructions.
type Hub struct {
	svc     *matchmaking.Service
	logger  *zap.Logger
	counter ConnectionCounter

	// opMu is held from the service call until its deliveries are queued,
	// so every connection receives events in registry order.
	opMu sync.Mutex

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client is one websocket connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

func NewHub(svc *matchmaking.Service, counter ConnectionCounter, logger *zap.Logger) *Hub {
	return &Hub{
		svc:     svc,
		logger:  logger,
		counter: counter,
		clients: make(map[string]*Client),
	}
}

// HandleSignaling upgrades the request and runs the connection until it
// closes.
func (h *Hub) HandleSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
	}
	h.register(client)
	if h.counter != nil {
		h.counter.Connected()
	}
	h.logger.Info("peer connected", zap.String("peer", client.ID), zap.String("remote", conn.RemoteAddr().String()))

	h.apply(func() []matchmaking.Delivery { return h.svc.Connect(client.ID) })

	go client.writePump()
	go client.readPump()
}

// Deliver sends each instruction to its target connection. Targets that are
// gone are skipped; a full send buffer drops the message.
func (h *Hub) Deliver(deliveries []matchmaking.Delivery) {
	for _, d := range deliveries {
		data, err := encode(d)
		if err != nil {
			h.logger.Error("failed to marshal message", zap.String("event", string(d.Event)), zap.Error(err))
			continue
		}

		h.mu.RLock()
		client, ok := h.clients[d.To]
		if ok {
			select {
			case client.send <- data:
			default:
				h.logger.Warn("send buffer full, dropping message",
					zap.String("peer", d.To), zap.String("event", string(d.Event)))
			}
		}
		h.mu.RUnlock()
	}
}

// Evict removes a peer on operator request: its partner is notified and the
// socket is closed. It reports whether the peer was known.
func (h *Hub) Evict(id string) bool {
	var known bool
	h.apply(func() []matchmaking.Delivery {
		var deliveries []matchmaking.Delivery
		deliveries, known = h.svc.Evict(id)
		return deliveries
	})

	h.mu.RLock()
	client, connected := h.clients[id]
	h.mu.RUnlock()
	if connected {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "evicted")
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = client.conn.Close()
		h.logger.Info("peer evicted", zap.String("peer", id))
	}
	return known || connected
}

// ConnectionCount is the number of open sockets.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

// unregister closes the send channel under the write lock so that Deliver,
// which sends under the read lock, can never send on a closed channel.
func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client.ID] == client {
		delete(h.clients, client.ID)
		close(client.send)
	}
}

// apply runs one service operation and queues its deliveries before any
// other operation can start. Deliver never blocks, so the lock is short.
func (h *Hub) apply(op func() []matchmaking.Delivery) {
	h.opMu.Lock()
	defer h.opMu.Unlock()
	h.Deliver(op())
}

func (h *Hub) dispatch(client *Client, msg models.Envelope) {
	h.apply(func() []matchmaking.Delivery { return h.handle(client, msg) })
}

func (h *Hub) handle(client *Client, msg models.Envelope) []matchmaking.Delivery {
	var deliveries []matchmaking.Delivery

	switch msg.Type {
	case models.EventJoin:
		deliveries, _ = h.svc.Join(client.ID)
	case models.EventNext:
		deliveries, _ = h.svc.Next(client.ID)
	case models.EventOffer, models.EventAnswer, models.EventICECandidate, models.EventICECandidateAlias:
		kind := msg.Type
		if kind == models.EventICECandidateAlias {
			kind = models.EventICECandidate
		}
		var target models.RelayTarget
		if err := json.Unmarshal(msg.Payload, &target); err != nil || target.Target == "" {
			deliveries = errorTo(client.ID, "malformed message")
			break
		}
		deliveries = h.svc.Relay(kind, client.ID, target.Target, msg.Payload)
	default:
		h.logger.Debug("unknown message type", zap.String("peer", client.ID), zap.String("type", string(msg.Type)))
		deliveries = errorTo(client.ID, "unknown event")
	}
	return deliveries
}

func errorTo(id, message string) []matchmaking.Delivery {
	return []matchmaking.Delivery{{
		To:      id,
		Event:   models.EventError,
		Payload: models.ErrorPayload{Message: message},
	}}
}

func encode(d matchmaking.Delivery) ([]byte, error) {
	env := models.Envelope{Type: d.Event}
	if d.Payload != nil {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.apply(func() []matchmaking.Delivery { return c.hub.svc.Disconnect(c.ID) })
		c.conn.Close()
		c.hub.logger.Info("peer disconnected", zap.String("peer", c.ID))
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket error", zap.String("peer", c.ID), zap.Error(err))
			}
			break
		}

		var msg models.Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.logger.Debug("failed to parse message", zap.String("peer", c.ID), zap.Error(err))
			c.hub.Deliver(errorTo(c.ID, "malformed message"))
			continue
		}

		c.hub.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
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
				c.hub.logger.Debug("failed to write message", zap.String("peer", c.ID), zap.Error(err))
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
