package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ticketx/ledger-engine/internal/metrics"
	"github.com/ticketx/ledger-engine/internal/model"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type         string              `json:"type"`
	Notification *model.Notification `json:"notification,omitempty"`
}

type delivery struct {
	userID string
	data   []byte
}

// WSHub keeps each user's WebSocket connections and pushes notifications to
// the connections of their recipient.
type WSHub struct {
	clients    map[string]map[*websocket.Conn]bool
	deliver    chan delivery
	register   chan client
	unregister chan client
	done       chan struct{}
	logger     *slog.Logger
	mu         sync.RWMutex
}

type client struct {
	userID string
	conn   *websocket.Conn
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		clients:    make(map[string]map[*websocket.Conn]bool),
		deliver:    make(chan delivery, 256),
		register:   make(chan client),
		unregister: make(chan client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop and returns when ctx is cancelled, closing
// every connection.
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for userID, conns := range h.clients {
				for conn := range conns {
					conn.Close()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*websocket.Conn]bool)
			}
			h.clients[c.userID][c.conn] = true
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Info("ws client connected", "user_id", c.userID)

		case c := <-h.unregister:
			h.remove(c)

		case d := <-h.deliver:
			h.mu.RLock()
			var dead []client
			for conn := range h.clients[d.userID] {
				if err := conn.WriteMessage(websocket.TextMessage, d.data); err != nil {
					dead = append(dead, client{userID: d.userID, conn: conn})
				}
			}
			h.mu.RUnlock()
			for _, c := range dead {
				h.remove(c)
			}
		}
	}
}

func (h *WSHub) remove(c client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.userID]
	if _, ok := conns[c.conn]; !ok {
		return
	}
	delete(conns, c.conn)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	c.conn.Close()
	metrics.WebSocketClients.Dec()
}

// Clients returns the number of open connections for userID.
func (h *WSHub) Clients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Notify queues a notification for userID's connections. It never blocks;
// when the queue is full the push is dropped and the notification stays
// available through the notifications listing.
func (h *WSHub) Notify(userID string, n model.Notification) {
	data, err := json.Marshal(WSMessage{Type: "notification", Notification: &n})
	if err != nil {
		return
	}
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
	default:
		h.logger.Warn("ws push dropped", "user_id", userID, "notification_id", n.ID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The user is
// taken from the user_id query parameter or the X-User-ID header.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = r.Header.Get(UserHeader)
	}
	if userID == "" {
		writeBadRequest(w, "user_id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}

	c := client{userID: userID, conn: conn}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[userID][conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
