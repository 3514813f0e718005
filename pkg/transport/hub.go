package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler receives one named event from a connection. data is nil for the
// connect and disconnect lifecycle events.
type Handler func(ctx context.Context, connID string, data json.RawMessage)

// Options configures a Hub.
type Options struct {
	// Namespace scopes the hub; frames for other namespaces are ignored.
	Namespace string
	// AllowedOrigins restricts browser origins. Empty allows every origin.
	AllowedOrigins []string
	Log            *slog.Logger
}

// Hub tracks live connections and rooms and routes inbound frames to the
// registered event handlers.
type Hub struct {
	namespace      string
	allowedOrigins map[string]bool
	upgrader       websocket.Upgrader
	log            *slog.Logger

	mu       sync.RWMutex
	conns    map[string]*conn
	rooms    map[string]map[string]*conn
	handlers map[string]Handler
}

func NewHub(opts Options) *Hub {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	h := &Hub{
		namespace:      normalizeNamespace(opts.Namespace),
		allowedOrigins: originSet(opts.AllowedOrigins),
		log:            log.With("component", "transport.hub"),
		conns:          make(map[string]*conn),
		rooms:          make(map[string]map[string]*conn),
		handlers:       make(map[string]Handler),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// On registers handler for event, replacing any previous one.
func (h *Hub) On(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = handler
}

// Emit sends event with data to every connection in room.
func (h *Hub) Emit(ctx context.Context, event string, data any, room string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	message, err := newFrame(event, h.namespace, data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}

	h.mu.RLock()
	members := make([]*conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, room)
	}

	var errs []error
	for _, c := range members {
		if err := c.enqueue(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", c.id, err))
		}
	}

	return errors.Join(errs...)
}

// Join adds a live connection to room.
func (h *Hub) Join(room string, connID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionClosed, connID)
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*conn)
	}
	h.rooms[room][connID] = c
	return nil
}

// Leave removes a connection from room.
func (h *Hub) Leave(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, connID)
}

// Connections reports how many connections are live.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every live connection. Hijacked connections outlive
// http.Server.Shutdown, so the server calls this when it stops.
func (h *Hub) Close() {
	h.mu.RLock()
	live := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		live = append(live, c)
	}
	h.mu.RUnlock()

	for _, c := range live {
		c.close()
	}
}

// Handler upgrades requests to WebSocket connections. Handlers run with ctx,
// which should live as long as the server.
func (h *Hub) Handler(ctx context.Context) http.Handler {
	if ctx == nil {
		ctx = context.Background()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(ctx, w, r)
	})
}

func (h *Hub) serve(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), ws, h.log)
	h.register(c)
	go c.writePump()

	h.dispatch(ctx, c.id, EventConnect, nil)
	c.readPump(func(message []byte) {
		h.handleFrame(ctx, c.id, message)
	})

	h.unregister(c)
	c.close()
	h.dispatch(ctx, c.id, EventDisconnect, nil)
}

func (h *Hub) handleFrame(ctx context.Context, connID string, message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		h.log.Warn("Ignoring invalid frame", "connection_id", connID, "error", err)
		return
	}
	if frame.Event == "" {
		h.log.Warn("Ignoring frame without event", "connection_id", connID)
		return
	}
	if frame.Event == EventConnect || frame.Event == EventDisconnect {
		h.log.Debug("Ignoring reserved event from client", "connection_id", connID, "event", frame.Event)
		return
	}
	if namespace := normalizeNamespace(frame.Namespace); namespace != h.namespace {
		h.log.Debug("Ignoring frame for other namespace", "connection_id", connID, "namespace", namespace)
		return
	}

	h.dispatch(ctx, connID, frame.Event, frame.Data)
}

func (h *Hub) dispatch(ctx context.Context, connID string, event string, data json.RawMessage) {
	h.mu.RLock()
	handler, ok := h.handlers[event]
	h.mu.RUnlock()
	if !ok {
		h.log.Debug("No handler for event", "connection_id", connID, "event", event)
		return
	}

	handler(ctx, connID, data)
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.id] = c
	h.rooms[c.id] = map[string]*conn{c.id: c}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	for room := range h.rooms {
		h.leaveLocked(room, c.id)
	}
}

func (h *Hub) leaveLocked(room string, connID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}

func originSet(origins []string) map[string]bool {
	set := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			set[trimmed] = true
		}
	}

	return set
}
