package processor

import (
	"context"
	"log/slog"
	"strings"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/payload"
)

const (
	demoImageURL = "https://picsum.photos/seed/socketbot/400/300"

	commandButtons = "/buttons"
	commandImage   = "/image"
)

// Echo repeats every message back. A couple of slash commands show off the
// richer reply shapes.
type Echo struct {
	log *slog.Logger
}

func NewEcho(log *slog.Logger) *Echo {
	return &Echo{log: log.With("component", "processor.echo")}
}

func (e *Echo) Process(ctx context.Context, msg bus.InboundMessage, out channel.Output) error {
	switch strings.TrimSpace(msg.Content) {
	case commandButtons:
		return out.SendTextWithButtons(ctx, "Pick one:", []payload.Button{
			{Title: "Image", Payload: commandImage},
			{Title: "Say hi", Payload: "hi"},
		})
	case commandImage:
		return out.SendImage(ctx, demoImageURL)
	}

	e.log.Debug("Echoing message", "sender_id", msg.SenderID, "content_length", len(msg.Content))
	return out.SendText(ctx, msg.Content)
}
