package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/rideloop/loyalty/internal/app/loyalty"
)

// ─── Live Feed ──────────────────────────────────────────────────────────────

// LiveMessage is one frame of the live feed.
type LiveMessage struct {
	Type     string               `json:"type"` // "vip_view" or "status"
	DriverID string               `json:"driver_id"`
	At       time.Time            `json:"at"`
	View     *loyalty.VIPView     `json:"view,omitempty"`
	Status   *loyalty.StatusEvent `json:"status,omitempty"`
}

const (
	liveSendBuffer   = 32
	liveWriteTimeout = 5 * time.Second
)

type liveClient struct {
	conn     *websocket.Conn
	driverID string // empty receives every driver
	send     chan LiveMessage
	once     sync.Once
}

func (c *liveClient) close() {
	c.once.Do(func() { close(c.send) })
}

// LiveHub fans live VIP frames and status changes out to websocket clients.
// Slow clients drop frames rather than block publishers.
type LiveHub struct {
	mu       sync.RWMutex
	clients  map[*liveClient]struct{}
	upgrader websocket.Upgrader
	closed   bool
}

// NewLiveHub creates an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{
		clients: make(map[*liveClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleLive upgrades the request and streams frames until the client leaves.
// Mounted under a driver route it only streams that driver.
func (h *LiveHub) HandleLive(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "id")
	if driverID != "" && !loyalty.ValidDriverID(driverID) {
		writeError(w, http.StatusBadRequest, "invalid driver id")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("live upgrade failed")
		return
	}
	c := &liveClient{conn: conn, driverID: driverID, send: make(chan LiveMessage, liveSendBuffer)}
	if !h.add(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)

	// Reads only detect the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *LiveHub) writeLoop(c *liveClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.WithField("driver_id", c.driverID).WithError(err).Debug("live write failed")
			h.remove(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *LiveHub) add(c *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *LiveHub) remove(c *liveClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Clients returns the number of connected clients.
func (h *LiveHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *LiveHub) broadcast(msg LiveMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.driverID != "" && c.driverID != msg.DriverID {
			continue
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// PublishView sends a live VIP view.
func (h *LiveHub) PublishView(v loyalty.VIPView) {
	h.broadcast(LiveMessage{Type: "vip_view", DriverID: v.DriverID, At: time.Now(), View: &v})
}

// PublishStatus sends an online/offline transition.
func (h *LiveHub) PublishStatus(ev loyalty.StatusEvent) {
	h.broadcast(LiveMessage{Type: "status", DriverID: ev.DriverID, At: ev.At, Status: &ev})
}

// Close disconnects every client and refuses new ones.
func (h *LiveHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*liveClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}
