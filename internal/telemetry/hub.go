package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"equity-backtest/internal/backtest"
)

const writeWait = 5 * time.Second

// Event is one progress update of a running backtest.
type Event struct {
	RunID   string    `json:"run_id"`
	Step    int       `json:"step"`
	Total   int       `json:"total"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Hub fans progress events out to websocket clients.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan Event
	lock      sync.Mutex
	dropped   atomic.Int64
	log       *slog.Logger
	upgrader  websocket.Upgrader
}

// NewHub creates a hub whose queue holds buffer events. Browser clients
// may connect from origins; with none given only same-origin pages may
// connect, and "*" allows any origin.
func NewHub(buffer int, log *slog.Logger, origins ...string) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, buffer),
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(origins),
		},
	}
}

// originChecker returns nil for an empty list, which makes the upgrader
// fall back to its same-origin check. Requests without an Origin header
// come from non-browser clients and are allowed.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[strings.ToLower(origin)]
	}
}

// Run delivers queued events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.send(ev)
		}
	}
}

func (h *Hub) send(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal progress event", slog.String("error", err.Error()))
		return
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.lock.Lock()
	defer h.lock.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Publish queues ev without blocking. It reports false when the queue is
// full and the event was dropped.
func (h *Hub) Publish(ev Event) bool {
	select {
	case h.broadcast <- ev:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped is the number of events discarded because the queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Clients is the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

// Observer returns a progress observer that publishes events tagged runID.
func (h *Hub) Observer(runID string) backtest.ProgressObserver {
	return func(step, total int, msg string) {
		h.Publish(Event{RunID: runID, Step: step, Total: total, Message: msg, Time: time.Now().UTC()})
	}
}

// ServeWS upgrades the request and registers the connection. Incoming
// messages are discarded; a read error unregisters the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				if h.clients[conn] {
					conn.Close()
					delete(h.clients, conn)
				}
				h.lock.Unlock()
				return
			}
		}
	}()
}
