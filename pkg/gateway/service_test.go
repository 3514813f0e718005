package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/config"
	"socketbot/pkg/logger"
)

func nopProcessor(context.Context, bus.InboundMessage, channel.Output) error { return nil }

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(config.Default(), nopProcessor, logger.Discard())
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	t.Cleanup(svc.events.Close)
	return svc
}

func TestNewServiceRequiresConfigAndProcessor(t *testing.T) {
	t.Parallel()

	if _, err := NewService(nil, nopProcessor, nil); err == nil {
		t.Fatal("expected error without config")
	}
	if _, err := NewService(config.Default(), nil, nil); err == nil {
		t.Fatal("expected error without processor")
	}
}

func TestHealthRoutes(t *testing.T) {
	t.Parallel()

	handler := newTestService(t).Handler(context.Background())
	for _, path := range []string{"/", "/webhooks/socketio/"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s body: %v", path, err)
		}
		if len(body) != 1 || body["status"] != "ok" {
			t.Fatalf("GET %s body = %v, want {status: ok}", path, body)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope status = %d, want 404", rec.Code)
	}
}

func TestReadyzReflectsServingState(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	handler := svc.Handler(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before serving", rec.Code)
	}

	svc.serving = true
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 while serving", rec.Code)
	}
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "ready" {
		t.Fatalf("status = %q, want ready", status.Status)
	}
}

func TestCountTalliesLifecycleEvents(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	for _, eventType := range []bus.EventType{
		bus.EventConnected,
		bus.EventConnected,
		bus.EventSessionConfirmed,
		bus.EventMessageReceived,
		bus.EventMessageHandled,
		bus.EventMessageDropped,
		bus.EventProcessingFailed,
		bus.EventDisconnected,
	} {
		svc.count(bus.Event{Type: eventType})
	}

	got := svc.currentStatus("ok").Counters
	want := counters{Connected: 2, Disconnected: 1, SessionsConfirmed: 1, Received: 1, Handled: 1, Dropped: 1, Failed: 1}
	if got != want {
		t.Fatalf("counters = %+v, want %+v", got, want)
	}
}
