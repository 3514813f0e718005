package socket

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/config"
	"socketbot/pkg/delivery"
	"socketbot/pkg/logger"
	"socketbot/pkg/payload"
	"socketbot/pkg/transport"
)

type emitted struct {
	event string
	room  string
	data  any
}

type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]transport.Handler
	emits    []emitted
	failOn   string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler)}
}

func (f *fakeTransport) On(event string, handler transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = handler
}

func (f *fakeTransport) Emit(_ context.Context, event string, data any, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && room == f.failOn {
		return transport.ErrUnknownRoom
	}
	f.emits = append(f.emits, emitted{event: event, room: room, data: data})
	return nil
}

func (f *fakeTransport) fire(t *testing.T, event string, connID string, data string) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[event]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for %q", event)
	}
	var raw json.RawMessage
	if data != "" {
		raw = json.RawMessage(data)
	}
	handler(context.Background(), connID, raw)
}

func (f *fakeTransport) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeTransport) sentTo(room string, event string) []emitted {
	var matched []emitted
	for _, e := range f.sent() {
		if e.room == room && e.event == event {
			matched = append(matched, e)
		}
	}
	return matched
}

type recordingProcessor struct {
	mu       sync.Mutex
	received []bus.InboundMessage
	handle   func(ctx context.Context, msg bus.InboundMessage, out channel.Output) error
}

func (p *recordingProcessor) process(ctx context.Context, msg bus.InboundMessage, out channel.Output) error {
	p.mu.Lock()
	p.received = append(p.received, msg)
	p.mu.Unlock()
	if p.handle == nil {
		return nil
	}
	return p.handle(ctx, msg, out)
}

func (p *recordingProcessor) messages() []bus.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bus.InboundMessage(nil), p.received...)
}

func newTestChannel(t *testing.T, cfg config.SocketIOConfig, proc *recordingProcessor, events *bus.Bus) (*Channel, *fakeTransport, *[]time.Duration) {
	t.Helper()

	var mu sync.Mutex
	pauses := &[]time.Duration{}
	tr := newFakeTransport()
	ch, err := New(tr, Options{
		Config:    cfg,
		Processor: proc.process,
		Bus:       events,
		Log:       logger.Discard(),
		Delivery: []delivery.Option{delivery.WithPause(func(_ context.Context, d time.Duration) error {
			mu.Lock()
			*pauses = append(*pauses, d)
			mu.Unlock()
			return nil
		})},
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	ch.Register()
	return ch, tr, pauses
}

func TestNewRequiresTransportAndProcessor(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	if _, err := New(nil, Options{Processor: proc.process}); err == nil {
		t.Fatal("expected error without transport")
	}
	if _, err := New(newFakeTransport(), Options{}); err == nil {
		t.Fatal("expected error without processor")
	}
}

func TestRegisterInstallsHandlers(t *testing.T) {
	t.Parallel()

	_, tr, _ := newTestChannel(t, config.SocketIOConfig{UserMessageEvent: "said"}, &recordingProcessor{}, nil)
	for _, event := range []string{transport.EventConnect, transport.EventDisconnect, "session_request", "said"} {
		if _, ok := tr.handlers[event]; !ok {
			t.Fatalf("handler for %q not registered", event)
		}
	}
	if _, ok := tr.handlers[config.DefaultUserMessageEvent]; ok {
		t.Fatal("default user event registered despite override")
	}
}

func TestSendTextEmitsTypedBubble(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		if err := out.SendText(ctx, ""); err != nil {
			return err
		}
		return out.SendText(ctx, "hi")
	}}
	ch, tr, pauses := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"hello"}`)
	ch.Wait()

	sent := tr.sentTo("conn-1", config.DefaultBotMessageEvent)
	if len(sent) != 1 {
		t.Fatalf("bot emits = %d, want 1 (empty text sends nothing)", len(sent))
	}
	p := sent[0].data.(payload.Payload)
	if p.Text != "hi" || p.Delay != 2 || !p.AllowTyping || p.Type != "text" {
		t.Fatalf("payload = %+v, want typed text with delay 2", p)
	}
	if len(*pauses) != 1 || (*pauses)[0] != 2*time.Second {
		t.Fatalf("pauses = %v, want [2s]", *pauses)
	}
}

func TestSendTextWithButtonsRendersQuickReplies(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		return out.SendTextWithButtons(ctx, "pick", []payload.Button{
			{Title: "Yes", Payload: "/yes"},
			{Title: "No", Payload: "/no"},
		})
	}}
	ch, tr, pauses := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"menu"}`)
	ch.Wait()

	sent := tr.sentTo("conn-1", config.DefaultBotMessageEvent)
	if len(sent) != 1 {
		t.Fatalf("bot emits = %d, want 1", len(sent))
	}
	p := sent[0].data.(payload.Payload)
	if len(p.QuickReplies) != 2 || p.QuickReplies[0].Title != "Yes" || p.QuickReplies[1].Payload != "/no" {
		t.Fatalf("quick replies = %+v", p.QuickReplies)
	}
	for _, qr := range p.QuickReplies {
		if qr.ContentType != "text" {
			t.Fatalf("quick reply content_type = %q, want text", qr.ContentType)
		}
	}
	if len(*pauses) != 0 {
		t.Fatalf("pauses = %v, want none for zero delay", *pauses)
	}
}

func TestSendElementsEmitsOnePayloadPerElementInOrder(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		return out.SendElements(ctx, []any{
			map[string]any{"title": "first"},
			map[string]any{"title": "second"},
		})
	}}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"cards"}`)
	ch.Wait()

	sent := tr.sentTo("conn-1", config.DefaultBotMessageEvent)
	if len(sent) != 2 {
		t.Fatalf("bot emits = %d, want 2", len(sent))
	}
	for i, want := range []string{"first", "second"} {
		p := sent[i].data.(payload.Payload)
		if p.Attachment == nil || p.Attachment.Type != "template" {
			t.Fatalf("emit %d attachment = %+v, want template", i, p.Attachment)
		}
		body := p.Attachment.Payload.(map[string]any)
		if body["template_type"] != "generic" {
			t.Fatalf("emit %d template_type = %v", i, body["template_type"])
		}
		if got := body["elements"].(map[string]any)["title"]; got != want {
			t.Fatalf("emit %d element title = %v, want %s", i, got, want)
		}
	}
}

func TestSendImageAndAttachment(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		if err := out.SendImage(ctx, "https://img.example/cat.png"); err != nil {
			return err
		}
		return out.SendAttachment(ctx, payload.Attachment{Type: "video", Payload: map[string]any{"src": "v.mp4"}})
	}}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"media"}`)
	ch.Wait()

	sent := tr.sentTo("conn-1", config.DefaultBotMessageEvent)
	if len(sent) != 2 {
		t.Fatalf("bot emits = %d, want 2", len(sent))
	}
	image := sent[0].data.(payload.Payload).Attachment
	if image == nil || image.Type != "image" || image.Payload.(map[string]any)["src"] != "https://img.example/cat.png" {
		t.Fatalf("image attachment = %+v", image)
	}
	video := sent[1].data.(payload.Payload).Attachment
	if video == nil || video.Type != "video" {
		t.Fatalf("attachment = %+v, want video", video)
	}
}

func TestSendCustomJSONDropsMalformedMessage(t *testing.T) {
	t.Parallel()

	var sendErr error
	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		sendErr = out.SendCustomJSON(ctx, []byte(`{"text":"x","modal":[{"title":"t"}]}`))
		return out.SendCustomJSON(ctx, []byte(`{"text":"ok","buttons":[{"title":"A","payload":"/a"}]}`))
	}}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"custom"}`)
	ch.Wait()

	if !errors.Is(sendErr, payload.ErrMalformed) {
		t.Fatalf("malformed send error = %v, want ErrMalformed", sendErr)
	}
	sent := tr.sentTo("conn-1", config.DefaultBotMessageEvent)
	if len(sent) != 1 {
		t.Fatalf("bot emits = %d, want only the valid message", len(sent))
	}
	p := sent[0].data.(payload.Payload)
	if p.Text != "ok" || len(p.QuickReplies) != 1 || p.QuickReplies[0].Payload != "/a" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestSessionRequestConfirmsToRequesterOnly(t *testing.T) {
	t.Parallel()

	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, &recordingProcessor{}, nil)

	tr.fire(t, transport.EventConnect, "conn-1", "")
	tr.fire(t, transport.EventConnect, "conn-2", "")
	tr.fire(t, "session_request", "conn-1", `{"session_id":"abc"}`)

	confirms := tr.sentTo("conn-1", "session_confirm")
	if len(confirms) != 1 || confirms[0].data != "abc" {
		t.Fatalf("confirms = %+v, want abc to conn-1", confirms)
	}
	if other := tr.sentTo("conn-2", "session_confirm"); len(other) != 0 {
		t.Fatalf("conn-2 received %d confirms, want none", len(other))
	}
	if got, ok := ch.sessions.Session("conn-1"); !ok || got != "abc" {
		t.Fatalf("session = %q/%v, want abc", got, ok)
	}
}

func TestSessionRequestMintsFreshIDs(t *testing.T) {
	t.Parallel()

	_, tr, _ := newTestChannel(t, config.SocketIOConfig{}, &recordingProcessor{}, nil)

	tr.fire(t, "session_request", "conn-1", "")
	tr.fire(t, "session_request", "conn-1", `{"session_id":null}`)
	tr.fire(t, "session_request", "conn-1", `not json`)

	confirms := tr.sentTo("conn-1", "session_confirm")
	if len(confirms) != 3 {
		t.Fatalf("confirms = %d, want 3", len(confirms))
	}
	seen := make(map[string]bool)
	for _, c := range confirms {
		id := c.data.(string)
		if len(id) != 32 || strings.Contains(id, "-") {
			t.Fatalf("minted id = %q, want 32 hex chars", id)
		}
		if seen[id] {
			t.Fatalf("minted id %q twice", id)
		}
		seen[id] = true
	}
}

func TestSessionRequestConfirmsIDVerbatim(t *testing.T) {
	t.Parallel()

	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, &recordingProcessor{}, nil)

	cases := []struct {
		data    string
		confirm any
		session string
	}{
		{data: `{"session_id":" abc "}`, confirm: " abc ", session: " abc "},
		{data: `{"session_id":""}`, confirm: "", session: ""},
		{data: `{"session_id":42}`, confirm: json.RawMessage(`42`), session: "42"},
	}
	for i, tc := range cases {
		tr.fire(t, "session_request", "conn-1", tc.data)

		confirms := tr.sentTo("conn-1", "session_confirm")
		if len(confirms) != i+1 {
			t.Fatalf("confirms = %d, want %d", len(confirms), i+1)
		}
		if got := confirms[i].data; !reflect.DeepEqual(got, tc.confirm) {
			t.Fatalf("%s confirmed %#v, want %#v", tc.data, got, tc.confirm)
		}
		if got, _ := ch.sessions.Session("conn-1"); got != tc.session {
			t.Fatalf("%s session = %q, want %q", tc.data, got, tc.session)
		}
	}
}

func TestDisconnectDiscardsSession(t *testing.T) {
	t.Parallel()

	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, &recordingProcessor{}, nil)

	tr.fire(t, "session_request", "conn-1", `{"session_id":"abc"}`)
	tr.fire(t, transport.EventDisconnect, "conn-1", "")

	if _, ok := ch.sessions.Session("conn-1"); ok {
		t.Fatal("session kept after disconnect")
	}
}

func TestEphemeralIdentityIsConnectionID(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"hello","session_id":"abc","metadata":{"lang":"en"}}`)
	ch.Wait()

	got := proc.messages()
	if len(got) != 1 {
		t.Fatalf("processed = %d, want 1", len(got))
	}
	msg := got[0]
	if msg.SenderID != "conn-1" || msg.ConnectionID != "conn-1" {
		t.Fatalf("identity = %q/%q, want conn-1", msg.SenderID, msg.ConnectionID)
	}
	if msg.Channel != "socketio" || msg.Content != "hello" || msg.Metadata["lang"] != "en" {
		t.Fatalf("inbound = %+v", msg)
	}
}

func TestPersistentModeUsesSessionID(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	events := bus.New()
	defer events.Close()
	sub, cancel := events.Subscribe(context.Background(), 8)
	defer cancel()

	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{SessionPersistence: true}, proc, events)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"lost"}`)
	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"lost too","session_id":""}`)
	ch.Wait()
	if got := proc.messages(); len(got) != 0 {
		t.Fatalf("processed = %d, want none without session id", len(got))
	}

	drops := 0
	for drops < 2 {
		select {
		case event := <-sub:
			if event.Type == bus.EventMessageDropped {
				drops++
			}
		case <-time.After(time.Second):
			t.Fatalf("dropped events = %d, want 2", drops)
		}
	}

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"kept","session_id":" abc "}`)
	ch.Wait()
	got := proc.messages()
	if len(got) != 1 || got[0].SenderID != " abc " || got[0].ConnectionID != "conn-1" {
		t.Fatalf("processed = %+v, want sender \" abc \"", got)
	}
}

func TestMessageWithoutTextIsDropped(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"session_id":"abc"}`)
	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `[1,2]`)
	ch.Wait()

	if got := proc.messages(); len(got) != 0 {
		t.Fatalf("processed = %d, want none", len(got))
	}
}

func TestEmitFailureEndsOnlyThatEvent(t *testing.T) {
	t.Parallel()

	events := bus.New()
	defer events.Close()
	sub, cancel := events.Subscribe(context.Background(), 16)
	defer cancel()

	proc := &recordingProcessor{handle: func(ctx context.Context, _ bus.InboundMessage, out channel.Output) error {
		if err := out.SendText(ctx, "first"); err != nil {
			return err
		}
		return out.SendText(ctx, "second")
	}}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, events)
	tr.failOn = "gone"

	tr.fire(t, config.DefaultUserMessageEvent, "gone", `{"message":"a"}`)
	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"b"}`)
	ch.Wait()

	if got := tr.sentTo("conn-1", config.DefaultBotMessageEvent); len(got) != 2 {
		t.Fatalf("healthy connection emits = %d, want 2", len(got))
	}

	var failed, handled int
	for failed+handled < 2 {
		select {
		case event := <-sub:
			switch event.Type {
			case bus.EventProcessingFailed:
				failed++
				if event.ConnectionID != "gone" || event.Error == "" {
					t.Fatalf("failure event = %+v", event)
				}
			case bus.EventMessageHandled:
				handled++
			}
		case <-time.After(time.Second):
			t.Fatalf("failed=%d handled=%d, want 1 each", failed, handled)
		}
	}
	if failed != 1 || handled != 1 {
		t.Fatalf("failed=%d handled=%d, want 1 each", failed, handled)
	}
}

func TestMessagesAreHandledConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan string, 2)
	proc := &recordingProcessor{handle: func(_ context.Context, msg bus.InboundMessage, _ channel.Output) error {
		started <- msg.Content
		<-release
		return nil
	}}
	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, nil)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"a"}`)
	tr.fire(t, config.DefaultUserMessageEvent, "conn-2", `{"message":"b"}`)

	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("second message waited for the first")
		}
	}
	close(release)
	ch.Wait()
}

func TestPreviewTextBoundsLength(t *testing.T) {
	t.Parallel()

	if got := previewText("  short  "); got != "short" {
		t.Fatalf("preview = %q, want short", got)
	}
	long := strings.Repeat("x", messagePreviewLimit+10)
	if got := previewText(long); len(got) != messagePreviewLimit+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("preview length = %d", len(got))
	}

	wide := strings.Repeat("é", messagePreviewLimit+10)
	got := previewText(wide)
	if !utf8.ValidString(got) {
		t.Fatalf("preview %q is not valid UTF-8", got)
	}
	if n := utf8.RuneCountInString(got); n != messagePreviewLimit+3 {
		t.Fatalf("preview runes = %d, want %d", n, messagePreviewLimit+3)
	}
}

func TestClosedChannelDropsNewMessages(t *testing.T) {
	t.Parallel()

	proc := &recordingProcessor{}
	events := bus.New()
	defer events.Close()
	sub, cancel := events.Subscribe(context.Background(), 8)
	defer cancel()

	ch, tr, _ := newTestChannel(t, config.SocketIOConfig{}, proc, events)

	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"before"}`)
	ch.Close()
	tr.fire(t, config.DefaultUserMessageEvent, "conn-1", `{"message":"after"}`)
	ch.Wait()

	got := proc.messages()
	if len(got) != 1 || got[0].Content != "before" {
		t.Fatalf("processed = %+v, want only the message sent before Close", got)
	}

	for {
		select {
		case event := <-sub:
			if event.Type == bus.EventMessageDropped && event.Reason == "channel closed" {
				return
			}
		case <-time.After(time.Second):
			t.Fatal("no drop event for the message sent after Close")
		}
	}
}
