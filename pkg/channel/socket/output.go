package socket

import (
	"context"
	"fmt"
	"log/slog"

	"socketbot/pkg/channel"
	"socketbot/pkg/delivery"
	"socketbot/pkg/payload"
)

const textReplyDelay = 2

var _ channel.Output = (*Output)(nil)

// Output replies to the single connection it was built for. It lives for the
// handling of one inbound message.
type Output struct {
	seq  *delivery.Sequencer
	room string
	log  *slog.Logger
}

func newOutput(seq *delivery.Sequencer, room string, log *slog.Logger) *Output {
	return &Output{seq: seq, room: room, log: log}
}

// SendText sends a typed text bubble. Empty text sends nothing.
func (o *Output) SendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	allowTyping := true
	return o.send(ctx, payload.Message{Text: text, Delay: textReplyDelay, AllowTyping: &allowTyping})
}

func (o *Output) SendImage(ctx context.Context, url string) error {
	return o.send(ctx, payload.Message{Attachment: &payload.Attachment{
		Type:    "image",
		Payload: map[string]any{"src": url},
	}})
}

func (o *Output) SendTextWithButtons(ctx context.Context, text string, buttons []payload.Button) error {
	replies := make([]payload.QuickReply, 0, len(buttons))
	for _, button := range buttons {
		replies = append(replies, payload.QuickReply{ContentType: "text", Title: button.Title, Payload: button.Payload})
	}

	return o.send(ctx, payload.Message{Text: text, QuickReplies: replies, Delay: 0})
}

// SendElements sends each element as its own generic template, paced one
// after another. It stops at the first failure.
func (o *Output) SendElements(ctx context.Context, elements []any) error {
	for i, element := range elements {
		msg := payload.Message{Attachment: &payload.Attachment{
			Type: "template",
			Payload: map[string]any{
				"template_type": "generic",
				"elements":      element,
			},
		}}
		if err := o.send(ctx, msg); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}

	return nil
}

func (o *Output) SendCustom(ctx context.Context, msg payload.Message) error {
	return o.send(ctx, msg)
}

// SendCustomJSON decodes a wire message and sends it. A message with a
// malformed nested entry is dropped whole.
func (o *Output) SendCustomJSON(ctx context.Context, raw []byte) error {
	msg, err := payload.Decode(raw)
	if err != nil {
		o.log.Error("Dropping malformed custom message", "connection_id", o.room, "error", err)
		return err
	}

	return o.send(ctx, msg)
}

func (o *Output) SendAttachment(ctx context.Context, attachment payload.Attachment) error {
	return o.send(ctx, payload.Message{Attachment: &attachment})
}

func (o *Output) send(ctx context.Context, msg payload.Message) error {
	p, err := payload.Normalize(msg)
	if err != nil {
		o.log.Error("Dropping malformed message", "connection_id", o.room, "error", err)
		return err
	}

	return o.seq.Send(ctx, o.room, p)
}
