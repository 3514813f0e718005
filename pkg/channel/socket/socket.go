// Package socket is the real-time socket channel: it negotiates session
// identity per connection, hands user messages to the processor, and
// relays replies back through normalized, paced payloads.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/config"
	"socketbot/pkg/delivery"
	"socketbot/pkg/transport"
)

const (
	channelName         = "socketio"
	sessionRequestEvent = "session_request"
	messagePreviewLimit = 240
)

// Transport is the event capability the channel runs on.
type Transport interface {
	delivery.Emitter
	On(event string, handler transport.Handler)
}

// Options configures a Channel.
type Options struct {
	Config    config.SocketIOConfig
	Processor channel.Processor
	Bus       *bus.Bus
	Log       *slog.Logger
	// Delivery options, for instance a custom pause in tests.
	Delivery []delivery.Option
}

// Channel wires transport events to session handling and the processor.
type Channel struct {
	cfg       config.SocketIOConfig
	transport Transport
	seq       *delivery.Sequencer
	sessions  *Sessions
	processor channel.Processor
	bus       *bus.Bus
	log       *slog.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

type userUtterance struct {
	Message   *string         `json:"message"`
	SessionID json.RawMessage `json:"session_id"`
	Metadata  map[string]any  `json:"metadata"`
}

func New(tr Transport, opts Options) (*Channel, error) {
	if tr == nil {
		return nil, errors.New("transport is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("processor is required")
	}

	cfg := opts.Config
	if strings.TrimSpace(cfg.UserMessageEvent) == "" {
		cfg.UserMessageEvent = config.DefaultUserMessageEvent
	}
	if strings.TrimSpace(cfg.BotMessageEvent) == "" {
		cfg.BotMessageEvent = config.DefaultBotMessageEvent
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.socket")

	seq, err := delivery.New(tr, cfg.BotMessageEvent, append([]delivery.Option{delivery.WithLogger(log)}, opts.Delivery...)...)
	if err != nil {
		return nil, err
	}

	return &Channel{
		cfg:       cfg,
		transport: tr,
		seq:       seq,
		sessions:  newSessions(tr, cfg.SessionPersistence, opts.Bus, log),
		processor: opts.Processor,
		bus:       opts.Bus,
		log:       log,
	}, nil
}

// Name returns the channel identifier carried on inbound messages.
func (c *Channel) Name() string {
	return channelName
}

// Register installs the channel's event handlers on the transport.
func (c *Channel) Register() {
	c.transport.On(transport.EventConnect, func(ctx context.Context, connID string, _ json.RawMessage) {
		c.sessions.Connect(ctx, connID)
	})
	c.transport.On(transport.EventDisconnect, func(ctx context.Context, connID string, _ json.RawMessage) {
		c.sessions.Disconnect(ctx, connID)
	})
	c.transport.On(sessionRequestEvent, func(ctx context.Context, connID string, data json.RawMessage) {
		if _, err := c.sessions.RequestSession(ctx, connID, data); err != nil {
			c.log.Error("Failed to confirm session", "connection_id", connID, "error", err)
		}
	})
	c.transport.On(c.cfg.UserMessageEvent, c.handleMessage)
}

// Wait blocks until every message handed to the processor is done.
func (c *Channel) Wait() {
	c.inflight.Wait()
}

// Close stops accepting user messages and waits for the ones in flight.
// Messages arriving after Close are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
}

// handleMessage processes each user message on its own goroutine so one
// conversation's paced replies never hold up another's.
func (c *Channel) handleMessage(ctx context.Context, connID string, data json.RawMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.drop(ctx, connID, "channel closed", nil)
		return
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		c.process(ctx, connID, data)
	}()
}

func (c *Channel) process(ctx context.Context, connID string, data json.RawMessage) {
	var utterance userUtterance
	if err := json.Unmarshal(data, &utterance); err != nil {
		c.drop(ctx, connID, "unreadable message", err)
		return
	}
	if utterance.Message == nil {
		c.drop(ctx, connID, "missing message text", nil)
		return
	}

	senderID, ok := c.sessions.Resolve(ctx, connID, utterance.SessionID)
	if !ok {
		return
	}

	inbound := bus.InboundMessage{
		Channel:      channelName,
		SenderID:     senderID,
		ConnectionID: connID,
		Content:      *utterance.Message,
		Metadata:     utterance.Metadata,
	}
	c.log.Info("Received message", "connection_id", connID, "sender_id", senderID, "content", previewText(inbound.Content))
	c.bus.Publish(ctx, bus.Event{Type: bus.EventMessageReceived, Channel: channelName, ConnectionID: connID, SenderID: senderID})

	out := newOutput(c.seq, connID, c.log)
	if err := c.processor(ctx, inbound, out); err != nil {
		c.log.Error("Failed to process inbound message", "connection_id", connID, "sender_id", senderID, "error", err)
		c.bus.Publish(ctx, bus.Event{
			Type:         bus.EventProcessingFailed,
			Channel:      channelName,
			ConnectionID: connID,
			SenderID:     senderID,
			Error:        err.Error(),
		})
		return
	}

	c.bus.Publish(ctx, bus.Event{Type: bus.EventMessageHandled, Channel: channelName, ConnectionID: connID, SenderID: senderID})
}

func (c *Channel) drop(ctx context.Context, connID string, reason string, err error) {
	attrs := []any{"connection_id", connID, "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	c.log.Warn("Dropping inbound message", attrs...)
	c.bus.Publish(ctx, bus.Event{Type: bus.EventMessageDropped, Channel: channelName, ConnectionID: connID, Reason: reason})
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return string([]rune(trimmed)[:messagePreviewLimit]) + "..."
}
