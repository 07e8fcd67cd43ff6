package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"batchml/internal/estimator"
	"batchml/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types pushed on /ws/events.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventFinished = "finished"
	EventFailed   = "failed"
)

// Event is one message of the training event stream.
type Event struct {
	Type     string              `json:"type"`
	RunID    string              `json:"run_id"`
	Family   estimator.Family    `json:"family,omitempty"`
	Progress *estimator.Progress `json:"progress,omitempty"`
	Message  string              `json:"message,omitempty"`
	Time     time.Time           `json:"time"`
}

const writeWait = 5 * time.Second

// Hub fans events out to connected WebSocket clients. Only the broadcast
// goroutine writes to connections.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	events    chan Event
	stop      chan struct{}
	stopOnce  sync.Once
	gauge     metrics.MetricsGauge // nil when metrics are off
}

// NewHub starts the broadcast loop. Close stops it.
func NewHub(gauge metrics.MetricsGauge) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]bool),
		events:   make(chan Event, 256),
		stop:     make(chan struct{}),
		gauge:    gauge,
	}
	go h.run()
	return h
}

// Publish queues ev for all clients. Events are dropped when the queue is
// full so a slow client never stalls training.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case h.events <- ev:
	case <-h.stop:
	default:
		log.Warn().Str("run_id", ev.RunID).Str("type", ev.Type).Msg("Event queue full, dropping event")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and stops the broadcast loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)

		h.clientsMu.Lock()
		for client := range h.clients {
			client.Close()
		}
		h.clients = make(map[*websocket.Conn]bool)
		h.clientsMu.Unlock()
		h.setGauge(0)
	})
}

func (h *Hub) run() {
	for {
		select {
		case ev := <-h.events:
			h.broadcast(ev)
		case <-h.stop:
			return
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event for broadcast")
		return
	}

	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Failed to send event to WebSocket client")
			client.Close()
			delete(h.clients, client)
		}
	}
	h.setGauge(len(h.clients))
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	select {
	case <-h.stop:
		return
	default:
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	h.setGauge(len(h.clients))
	h.clientsMu.Unlock()

	// Clients never send anything meaningful; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.setGauge(len(h.clients))
	h.clientsMu.Unlock()
}
