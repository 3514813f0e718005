// Package transport provides named-event messaging over WebSocket with
// room addressing. Every connection gets an opaque id and is joined to the
// room of the same name.
package transport

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// EventConnect fires once a connection is registered.
	EventConnect = "connect"
	// EventDisconnect fires once a connection is gone.
	EventDisconnect = "disconnect"

	defaultNamespace = "/"
)

var (
	ErrUnknownRoom      = errors.New("unknown room")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is one event on the wire.
type Frame struct {
	Event     string          `json:"event"`
	Namespace string          `json:"nsp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func newFrame(event string, namespace string, data any) ([]byte, error) {
	frame := Frame{Event: event, Namespace: namespace}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = raw
	}

	return json.Marshal(frame)
}

func normalizeNamespace(namespace string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return defaultNamespace
	}
	if !strings.HasPrefix(namespace, "/") {
		namespace = "/" + namespace
	}

	return namespace
}
