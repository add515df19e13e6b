package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
)

// sseKeepalive is how often an idle stream gets a comment line.
var sseKeepalive = 30 * time.Second

// sseClient is a connected SSE client with a buffered send channel. An
// empty filter receives every event type.
type sseClient struct {
	send   chan []byte
	filter map[events.EventType]bool
}

func (c *sseClient) wants(t events.EventType) bool {
	return len(c.filter) == 0 || c.filter[t]
}

// parseEventFilter reads a comma-separated list such as "lease.ack,pool.exhausted".
func parseEventFilter(v string) map[events.EventType]bool {
	if v == "" {
		return nil
	}
	filter := make(map[events.EventType]bool)
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			filter[events.EventType(name)] = true
		}
	}
	return filter
}

// SSEHub manages Server-Sent Event connections for live event streaming.
type SSEHub struct {
	bus     *events.Bus
	logger  *slog.Logger
	clients map[*sseClient]struct{}
	mu      sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(bus *events.Bus, logger *slog.Logger) *SSEHub {
	return &SSEHub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*sseClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the event bus and broadcasts to clients in the
// background until Stop.
func (h *SSEHub) Start() {
	ch := h.bus.Subscribe(500)
	h.wg.Add(1)
	go h.run(ch)
}

func (h *SSEHub) run(ch chan events.Event) {
	defer h.wg.Done()
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			h.broadcast(evt.Type, data)
		case <-h.done:
			h.bus.Unsubscribe(ch)
			return
		}
	}
}

// Stop shuts down the SSE hub and closes all client channels.
func (h *SSEHub) Stop() {
	h.once.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		defer h.mu.Unlock()
		for client := range h.clients {
			h.dropLocked(client)
		}
	})
}

// broadcast sends data to every client subscribed to evtType.
func (h *SSEHub) broadcast(evtType events.EventType, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(evtType) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client too slow, disconnect it.
			h.logger.Debug("dropping slow SSE client")
			h.dropLocked(client)
		}
	}
}

func (h *SSEHub) addClient(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.SSEConnections.Inc()
}

func (h *SSEHub) removeClient(c *sseClient) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

// dropLocked closes and forgets a client. Callers hold h.mu.
func (h *SSEHub) dropLocked(c *sseClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	close(c.send)
	delete(h.clients, c)
	metrics.SSEConnections.Dec()
}

func (h *SSEHub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleSSE streams bus events to the client as Server-Sent Events.
// GET /api/v1/events/stream?events=lease.ack,lease.offer
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &sseClient{
		send:   make(chan []byte, 256),
		filter: parseEventFilter(r.URL.Query().Get("events")),
	}
	s.sseHub.addClient(client)
	defer s.sseHub.removeClient(client)

	s.logger.Debug("SSE client connected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
