// Package delivery emits normalized payloads to one connection and paces
// consecutive sends by each payload's declared delay.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"socketbot/pkg/payload"
)

// Emitter is the transport capability the sequencer writes through.
type Emitter interface {
	Emit(ctx context.Context, event string, data any, room string) error
}

// Sequencer sends one payload at a time. Send only returns after the
// payload's delay has elapsed, so a caller issuing several sends in a row
// gets them paced in order. The pause blocks only the calling goroutine.
type Sequencer struct {
	emitter Emitter
	event   string
	log     *slog.Logger
	pause   func(context.Context, time.Duration) error
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithPause replaces the timer-based pause, mostly for tests.
func WithPause(pause func(context.Context, time.Duration) error) Option {
	return func(s *Sequencer) {
		if pause != nil {
			s.pause = pause
		}
	}
}

// WithLogger sets the sequencer logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sequencer) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds a sequencer emitting on event (the bot message event name).
func New(emitter Emitter, event string, opts ...Option) (*Sequencer, error) {
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if event == "" {
		return nil, errors.New("event name is required")
	}

	s := &Sequencer{
		emitter: emitter,
		event:   event,
		log:     slog.Default(),
		pause:   sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "delivery.sequencer")

	return s, nil
}

// Send emits p to room, then waits p.Delay seconds. Emit failures are
// returned as-is (wrapped); nothing is retried or buffered.
func (s *Sequencer) Send(ctx context.Context, room string, p payload.Payload) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.emitter.Emit(ctx, s.event, p, room); err != nil {
		return fmt.Errorf("emit %s to %s: %w", s.event, room, err)
	}

	delay := p.DelayDuration()
	s.log.Debug("Payload emitted", "room", room, "type", p.Type, "delay", delay)
	if delay <= 0 {
		return nil
	}

	if err := s.pause(ctx, delay); err != nil {
		return fmt.Errorf("pace after %s to %s: %w", s.event, room, err)
	}

	return nil
}

// sleep waits on a timer. Only ctx cancellation cuts it short, and the
// channel passes the server lifetime context here, not a per-connection one.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
