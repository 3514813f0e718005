package channel

import (
	"context"

	"socketbot/pkg/bus"
	"socketbot/pkg/payload"
)

// Output sends replies back to the connection an inbound message came from.
// An Output is only valid while the message that produced it is processed.
type Output interface {
	SendText(ctx context.Context, text string) error
	SendImage(ctx context.Context, url string) error
	SendTextWithButtons(ctx context.Context, text string, buttons []payload.Button) error
	SendElements(ctx context.Context, elements []any) error
	SendCustom(ctx context.Context, msg payload.Message) error
	SendCustomJSON(ctx context.Context, raw []byte) error
	SendAttachment(ctx context.Context, attachment payload.Attachment) error
}

// Processor handles one inbound message, replying through out zero or more
// times. It is the agent core as seen by the channel.
type Processor func(ctx context.Context, msg bus.InboundMessage, out Output) error
