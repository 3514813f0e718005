// Package processor holds the message processors the socket channel can hand
// user messages to.
package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"socketbot/pkg/channel"
	"socketbot/pkg/config"
)

const (
	TypeEcho   = "echo"
	TypeRedis  = "redis"
	TypeOpenAI = "openai"

	redisPingTimeout = 5 * time.Second
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the processor selected by cfg.Processor.Type. The returned
// closer releases whatever connections the processor holds.
func New(cfg *config.Config, log *slog.Logger) (channel.Processor, io.Closer, error) {
	if log == nil {
		log = slog.Default()
	}

	processorType := strings.ToLower(strings.TrimSpace(cfg.Processor.Type))
	switch processorType {
	case "", TypeEcho:
		return NewEcho(log).Process, nopCloser{}, nil
	case TypeRedis:
		redisCfg := cfg.Processor.Redis
		opts, err := redis.ParseURL(redisCfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}

		bridge := NewBridge(client, redisCfg.Stream, time.Duration(redisCfg.ReplyTimeoutSeconds)*time.Second, log)
		return bridge.Process, client, nil
	case TypeOpenAI:
		responder, err := newOpenAIResponder(cfg.Processor.OpenAI)
		if err != nil {
			return nil, nil, err
		}
		return NewConversational(responder, log).Process, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported processor type %q", cfg.Processor.Type)
	}
}
