package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/payload"
)

const (
	envelopeField       = "envelope"
	responseChannelFmt  = "response:%s"
	defaultReplyTimeout = 30 * time.Second
	envelopeContentText = "text"
)

// ErrReplyTimeout is returned when the backend stops replying before it
// marks the conversation turn done.
var ErrReplyTimeout = errors.New("timed out waiting for reply")

type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MessageMetadata struct {
	Language     string         `json:"language"`
	PlatformData map[string]any `json:"platform_data"`
}

// MessageEnvelope is what the bridge writes to the inbound stream.
type MessageEnvelope struct {
	MessageID string          `json:"message_id"`
	SessionID string          `json:"session_id"`
	Channel   string          `json:"channel"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Content   MessageContent  `json:"content"`
	Metadata  MessageMetadata `json:"metadata"`
}

// Reply is one message the backend publishes on the response channel.
// Message holds a bot message in wire form.
type Reply struct {
	Message json.RawMessage `json:"message,omitempty"`
	Done    bool            `json:"done"`
}

type pubsubClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Bridge hands messages to a backend over a redis stream and relays the
// replies it publishes back to the user.
type Bridge struct {
	rdb     pubsubClient
	stream  string
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewBridge(rdb *redis.Client, stream string, timeout time.Duration, log *slog.Logger) *Bridge {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}

	return &Bridge{
		rdb:     rdb,
		stream:  stream,
		timeout: timeout,
		log:     log.With("component", "processor.redis"),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (b *Bridge) Process(ctx context.Context, msg bus.InboundMessage, out channel.Output) error {
	envelope := b.envelope(msg)
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// Subscribe before publishing so no reply can slip past.
	pubsub := b.rdb.Subscribe(ctx, fmt.Sprintf(responseChannelFmt, envelope.MessageID))
	defer pubsub.Close()

	setupCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if _, err := pubsub.Receive(setupCtx); err != nil {
		return fmt.Errorf("subscribe to replies: %w", err)
	}
	if err := b.rdb.XAdd(setupCtx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]any{envelopeField: string(body)},
	}).Err(); err != nil {
		return fmt.Errorf("publish to stream: %w", err)
	}
	b.log.Debug("Published envelope", "message_id", envelope.MessageID, "sender_id", msg.SenderID, "stream", b.stream)

	return b.relay(ctx, pubsub.Channel(), out)
}

func (b *Bridge) envelope(msg bus.InboundMessage) MessageEnvelope {
	return MessageEnvelope{
		MessageID: b.newID(),
		SessionID: msg.SenderID,
		Channel:   msg.Channel,
		UserID:    msg.SenderID,
		Timestamp: b.now().UTC(),
		Content:   MessageContent{Type: envelopeContentText, Text: msg.Content},
		Metadata:  MessageMetadata{PlatformData: msg.Metadata},
	}
}

// relay forwards replies until one is marked done. The reply timeout bounds
// the wait for each next reply, not the pacing of the ones already received.
// Unreadable or malformed replies are skipped; a reply that fails to send
// ends the turn.
func (b *Bridge) relay(ctx context.Context, replies <-chan *redis.Message, out channel.Output) error {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrReplyTimeout
		case raw, ok := <-replies:
			if !ok {
				return errors.New("reply subscription closed")
			}

			var reply Reply
			if err := json.Unmarshal([]byte(raw.Payload), &reply); err != nil {
				b.log.Warn("Skipping unreadable reply", "channel", raw.Channel, "error", err)
				continue
			}
			if len(reply.Message) > 0 && string(reply.Message) != "null" {
				err := out.SendCustomJSON(ctx, reply.Message)
				if err != nil && !errors.Is(err, payload.ErrMalformed) {
					return fmt.Errorf("relay reply: %w", err)
				}
			}
			if reply.Done {
				return nil
			}
			timer.Reset(b.timeout)
		}
	}
}
