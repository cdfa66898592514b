package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/monitor"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second

	eventInitialData = "initial_data"
	eventHistory     = "history"
	eventPong        = "pong"

	requestStats   = "request_stats"
	requestHistory = "request_history"
	requestPing    = "ping"
)

// Message is the envelope of every push and client request.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// ClientsRecorder tracks subscriber counts.
type ClientsRecorder interface {
	SetDashboardClients(n int)
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans monitor notifications out to WebSocket subscribers. Each
// subscriber has a buffered queue; one that falls a full buffer behind is
// disconnected.
type Hub struct {
	state    State
	upgrader websocket.Upgrader
	log      logging.Logger
	metrics  ClientsRecorder

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub builds a hub that answers client requests from state.
func NewHub(state State, log logging.Logger, metrics ClientsRecorder) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		state: state,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		metrics: metrics,
		clients: map[*client]struct{}{},
	}
}

// Clients returns the number of subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and subscribes the connection.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "ws upgrade failed", logging.Err(err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.setClients(n)

	ctx := logging.ContextWithCorrelationID(context.Background(), c.id)
	h.log.Info(ctx, "dashboard client connected", logging.String("remote", r.RemoteAddr))

	h.enqueue(c, Message{Type: eventInitialData, Data: h.state.CurrentData()})
	go h.writeLoop(c)
	go h.readLoop(ctx, c)
}

// HandleNotification pushes n to every subscriber.
func (h *Hub) HandleNotification(ctx context.Context, n monitor.Notification) {
	h.Broadcast(ctx, Message{Type: string(n.Kind), Data: n.Payload})
}

// Broadcast pushes msg to every subscriber.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn(ctx, "encode push message failed", logging.String("type", msg.Type), logging.Err(err))
		return
	}
	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn(ctx, "dropping slow dashboard client", logging.String("client_id", c.id))
		h.remove(c)
	}
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) enqueue(c *client, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	c.close()
	h.setClients(n)
}

func (h *Hub) setClients(n int) {
	if h.metrics != nil {
		h.metrics.SetDashboardClients(n)
	}
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for b := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(c)
			// keep draining so remove's close ends the loop
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer func() {
		h.remove(c)
		h.log.Info(ctx, "dashboard client disconnected")
	}()
	for {
		var req Message
		if err := c.conn.ReadJSON(&req); err != nil {
			return
		}
		switch req.Type {
		case requestStats:
			h.enqueue(c, Message{Type: string(monitor.KindStats), Data: h.state.Snapshot()})
		case requestHistory:
			h.enqueue(c, Message{Type: eventHistory, Data: h.state.History()})
		case requestPing:
			h.enqueue(c, Message{Type: eventPong, Data: map[string]time.Time{"timestamp": time.Now()}})
		default:
			h.log.Debug(ctx, "unknown dashboard request", logging.String("type", req.Type))
		}
	}
}
