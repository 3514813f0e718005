package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"socketbot/pkg/bus"
	"socketbot/pkg/delivery"
)

const sessionConfirmEvent = "session_confirm"

// Sessions tracks which session id each live connection negotiated and
// resolves the conversation identity of inbound messages.
type Sessions struct {
	emitter    delivery.Emitter
	persistent bool
	newID      func() string
	bus        *bus.Bus
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]string
}

func newSessions(emitter delivery.Emitter, persistent bool, events *bus.Bus, log *slog.Logger) *Sessions {
	return &Sessions{
		emitter:    emitter,
		persistent: persistent,
		newID:      newSessionID,
		bus:        events,
		log:        log,
		sessions:   make(map[string]string),
	}
}

type sessionRequest struct {
	SessionID json.RawMessage `json:"session_id"`
}

func (s *Sessions) Connect(ctx context.Context, connID string) {
	s.log.Debug("User connected", "connection_id", connID)
	s.bus.Publish(ctx, bus.Event{Type: bus.EventConnected, Channel: channelName, ConnectionID: connID})
}

// Disconnect forgets the connection's session.
func (s *Sessions) Disconnect(ctx context.Context, connID string) {
	s.mu.Lock()
	delete(s.sessions, connID)
	s.mu.Unlock()

	s.log.Debug("User disconnected", "connection_id", connID)
	s.bus.Publish(ctx, bus.Event{Type: bus.EventDisconnected, Channel: channelName, ConnectionID: connID})
}

// RequestSession confirms the client's session id back to it unchanged,
// minting a new one when the id is absent or null. Every request without an
// id mints a fresh one.
func (s *Sessions) RequestSession(ctx context.Context, connID string, data json.RawMessage) (string, error) {
	var req sessionRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("Ignoring unreadable session request data", "connection_id", connID, "error", err)
			req = sessionRequest{}
		}
	}

	var confirm any
	sessionID, ok := sessionValue(req.SessionID)
	switch {
	case !ok:
		sessionID = s.newID()
		confirm = sessionID
	case isJSONString(req.SessionID):
		confirm = sessionID
	default:
		confirm = req.SessionID
	}

	if err := s.emitter.Emit(ctx, sessionConfirmEvent, confirm, connID); err != nil {
		return "", fmt.Errorf("confirm session: %w", err)
	}

	s.mu.Lock()
	s.sessions[connID] = sessionID
	s.mu.Unlock()

	s.log.Debug("Session confirmed", "connection_id", connID, "session_id", sessionID)
	s.bus.Publish(ctx, bus.Event{Type: bus.EventSessionConfirmed, Channel: channelName, ConnectionID: connID, SenderID: sessionID})
	return sessionID, nil
}

// Session returns the id last confirmed to connID.
func (s *Sessions) Session(connID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID, ok := s.sessions[connID]
	return sessionID, ok
}

// Resolve returns the conversation identity for a message from connID. With
// persistence on, the message must carry a non-empty session id; otherwise
// the connection id is the identity.
func (s *Sessions) Resolve(ctx context.Context, connID string, sessionID json.RawMessage) (string, bool) {
	if !s.persistent {
		return connID, true
	}

	id, ok := sessionValue(sessionID)
	if !ok || isEmptyJSON(sessionID) {
		s.log.Warn("A message without a valid session id was received and will be ignored; "+
			"set a session id with the session_request event",
			"connection_id", connID)
		s.bus.Publish(ctx, bus.Event{
			Type:         bus.EventMessageDropped,
			Channel:      channelName,
			ConnectionID: connID,
			Reason:       "missing session id",
		})
		return "", false
	}

	return id, true
}

// sessionValue reads a session id as sent. A JSON string yields its text
// verbatim and any other non-null value its compact JSON form. Absent and
// null ids report false.
func sessionValue(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}

	if isJSONString(trimmed) {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return "", false
		}
		return text, true
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return "", false
	}
	return compact.String(), true
}

func isJSONString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// isEmptyJSON reports whether a non-null value is empty or zero: "", false,
// 0, [] or {}.
func isEmptyJSON(raw json.RawMessage) bool {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return true
	}

	switch typed := value.(type) {
	case string:
		return typed == ""
	case bool:
		return !typed
	case float64:
		return typed == 0
	case []any:
		return len(typed) == 0
	case map[string]any:
		return len(typed) == 0
	default:
		return value == nil
	}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
