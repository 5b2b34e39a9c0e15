// Package realtime streams judgments over WebSocket as they are issued.
//
// Fraud analysts and downstream agents subscribe instead of polling the
// audit trail. A subscriber may narrow the feed by decision, source,
// transaction, minimum risk score, or to policy disagreements only.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/streamguard/streamguard/internal/audit"
	"github.com/streamguard/streamguard/internal/facts"
)

var (
	activeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamguard",
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected judgment feed subscribers.",
	})
	droppedEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "streamguard",
		Subsystem: "realtime",
		Name:      "dropped_events_total",
		Help:      "Feed events dropped because the broadcast queue was full.",
	})
)

func init() {
	prometheus.MustRegister(activeClients, droppedEvents)
}

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType for feed events
type EventType string

const (
	// EventJudgment is a decision issued by the engine or the fail-closed fallback.
	EventJudgment EventType = "judgment"
	// EventValidation is an external judgment checked against the engine.
	EventValidation EventType = "validation"
)

// Event is one message on the feed.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Judgment  `json:"data"`
}

// Judgment is the feed's summary of an audit entry.
type Judgment struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Decision      facts.Decision `json:"decision"`
	PolicyApplied int            `json:"policy_applied"`
	Confidence    int            `json:"confidence"`
	RiskScore     int            `json:"risk_score"`
	Source        audit.Source   `json:"source"`
	Consistent    bool           `json:"consistent"`
	Discrepancies int            `json:"discrepancies"`
}

// Subscription filters for a client. Empty filters match everything.
type Subscription struct {
	Decisions        []facts.Decision `json:"decisions"`
	Sources          []audit.Source   `json:"sources"`
	TransactionIDs   []string         `json:"transaction_ids"`
	MinRiskScore     int              `json:"min_risk_score"`
	InconsistentOnly bool             `json:"inconsistent_only"`
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 1000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "realtime"),
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("judgment feed started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			activeClients.Set(0)
			h.logger.Info("judgment feed stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			activeClients.Set(float64(n))
			h.logger.Info("subscriber connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			activeClients.Set(float64(n))
			h.logger.Info("subscriber disconnected", "total", n)

		case event := <-h.broadcast:
			h.totalEvents.Add(1)
			payload := h.serialize(event)
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				if h.shouldSend(client, event) {
					select {
					case client.send <- payload:
					default:
						slow = append(slow, client)
					}
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				activeClients.Set(float64(n))
			}
		}
	}
}

// shouldSend checks if event matches client's subscription
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	j := event.Data
	if sub.InconsistentOnly && j.Consistent {
		return false
	}
	if j.RiskScore < sub.MinRiskScore {
		return false
	}
	if len(sub.Decisions) > 0 && !contains(sub.Decisions, j.Decision.Normalize()) {
		return false
	}
	if len(sub.Sources) > 0 && !contains(sub.Sources, j.Source) {
		return false
	}
	if len(sub.TransactionIDs) > 0 && !contains(sub.TransactionIDs, j.TransactionID) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (h *Hub) serialize(event *Event) []byte {
	data, _ := json.Marshal(event)
	return data
}

// Broadcast sends an event to all matching clients
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		droppedEvents.Inc()
		h.logger.Warn("broadcast channel full, dropping event", "transaction_id", event.Data.TransactionID)
	}
}

// Publish puts an audit entry on the feed. Entries from the external
// source become validation events.
func (h *Hub) Publish(entry *audit.Entry) {
	eventType := EventJudgment
	if entry.Source == audit.SourceExternal {
		eventType = EventValidation
	}
	j := Judgment{
		ID:            entry.ID,
		TransactionID: entry.TransactionID,
		Decision:      entry.Decision,
		PolicyApplied: entry.PolicyApplied,
		Confidence:    entry.Confidence,
		Source:        entry.Source,
		Consistent:    entry.Consistent,
		Discrepancies: len(entry.Discrepancies),
	}
	if entry.Investigation != nil {
		j.RiskScore = entry.Investigation.RiskScore
	}
	h.Broadcast(&Event{Type: eventType, Timestamp: entry.CreatedAt, Data: j})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connected_clients": len(h.clients),
		"total_events":      h.totalEvents.Load(),
		"total_clients":     h.totalClients.Load(),
		"peak_clients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Enforce connection limit
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	h.register <- client

	// Start goroutines for reading and writing
	go client.writePump()
	go client.readPump()
}

// readPump reads subscription updates from the socket
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
