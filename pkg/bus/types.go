package bus

import "time"

// InboundMessage is one user utterance with its resolved conversation identity.
type InboundMessage struct {
	Channel      string         `json:"channel"`
	SenderID     string         `json:"sender_id"`
	ConnectionID string         `json:"connection_id"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type EventType string

const (
	EventConnected        EventType = "connected"
	EventDisconnected     EventType = "disconnected"
	EventSessionConfirmed EventType = "session_confirmed"
	EventMessageReceived  EventType = "message_received"
	EventMessageDropped   EventType = "message_dropped"
	EventMessageHandled   EventType = "message_handled"
	EventProcessingFailed EventType = "processing_failed"
)

// Event reports one connection lifecycle or message handling step.
type Event struct {
	Type         EventType `json:"type"`
	At           time.Time `json:"at"`
	Channel      string    `json:"channel,omitempty"`
	ConnectionID string    `json:"connection_id,omitempty"`
	SenderID     string    `json:"sender_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Error        string    `json:"error,omitempty"`
}
