package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/channel/socket"
	"socketbot/pkg/config"
	"socketbot/pkg/delivery"
	"socketbot/pkg/transport"
)

const (
	webhookPrefix     = "/webhooks/"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	eventBuffer       = 256
)

// Service serves the socket channel and its health endpoints over HTTP.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	hub     *transport.Hub
	channel *socket.Channel
	events  *bus.Bus

	mu        sync.RWMutex
	startedAt time.Time
	serving   bool
	counters  counters
}

type counters struct {
	Connected         int64 `json:"connected"`
	Disconnected      int64 `json:"disconnected"`
	SessionsConfirmed int64 `json:"sessions_confirmed"`
	Received          int64 `json:"messages_received"`
	Handled           int64 `json:"messages_handled"`
	Dropped           int64 `json:"messages_dropped"`
	Failed            int64 `json:"processing_failed"`
}

type statusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Connections   int      `json:"connections"`
	Counters      counters `json:"counters"`
}

// NewService builds the transport hub and the socket channel around
// processor. Extra delivery options are passed through to the channel.
func NewService(cfg *config.Config, processor channel.Processor, log *slog.Logger, opts ...delivery.Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if log == nil {
		log = slog.Default()
	}

	socketCfg := cfg.Channels.SocketIO
	hub := transport.NewHub(transport.Options{
		Namespace:      socketCfg.Namespace,
		AllowedOrigins: socketCfg.AllowedOrigins,
		Log:            log,
	})

	events := bus.New()
	ch, err := socket.New(hub, socket.Options{
		Config:    socketCfg,
		Processor: processor,
		Bus:       events,
		Log:       log,
		Delivery:  opts,
	})
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("initialize socket channel: %w", err)
	}
	ch.Register()

	return &Service{
		cfg:     cfg,
		log:     log.With("component", "gateway.service"),
		hub:     hub,
		channel: ch,
		events:  events,
	}, nil
}

// Handler returns the HTTP routes. Channel handlers run with ctx.
func (s *Service) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Channels.SocketIO.SocketIOPath, s.hub.Handler(ctx))
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET "+webhookPrefix+s.channel.Name()+"/{$}", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleStatus)
	mux.HandleFunc("GET /readyz", s.handleReady)

	return mux
}

// Run listens on the configured address until ctx is done, then shuts the
// server down and waits for in-flight messages.
func (s *Service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(strings.TrimSpace(s.cfg.Server.Host), strconv.Itoa(s.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}

	sub, unsubscribe := s.events.Subscribe(ctx, eventBuffer)
	defer unsubscribe()
	countDone := make(chan struct{})
	go func() {
		defer close(countDone)
		for event := range sub {
			s.count(event)
		}
	}()

	server := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.serving = true
	s.mu.Unlock()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(listener)
	}()
	s.log.Info("Socket server started",
		"address", listener.Addr().String(),
		"path", s.cfg.Channels.SocketIO.SocketIOPath,
		"namespace", s.cfg.Channels.SocketIO.Namespace,
		"session_persistence", s.cfg.Channels.SocketIO.SessionPersistence,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve http: %w", err)
		}
	}

	s.mu.Lock()
	s.serving = false
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	s.hub.Close()
	s.channel.Close()
	s.events.Close()
	<-countDone

	s.log.Info("Socket server stopped")
	return runErr
}

func (s *Service) count(event bus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case bus.EventConnected:
		s.counters.Connected++
	case bus.EventDisconnected:
		s.counters.Disconnected++
	case bus.EventSessionConfirmed:
		s.counters.SessionsConfirmed++
	case bus.EventMessageReceived:
		s.counters.Received++
	case bus.EventMessageHandled:
		s.counters.Handled++
	case bus.EventMessageDropped:
		s.counters.Dropped++
	case bus.EventProcessingFailed:
		s.counters.Failed++
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.log)
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus("ok"), s.log)
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	writeJSON(w, statusCode, s.currentStatus(status), s.log)
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: uptime,
		Connections:   s.hub.Connections(),
		Counters:      s.counters,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serving
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("Failed to write status response", "error", err)
	}
}
