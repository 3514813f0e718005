package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/conversations"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"

	"socketbot/pkg/bus"
	"socketbot/pkg/channel"
	"socketbot/pkg/config"
)

// Responder turns user text into a model reply within a conversation.
type Responder interface {
	NewConversation(ctx context.Context) (string, error)
	Respond(ctx context.Context, conversationID string, text string) (string, error)
}

// Conversational keeps one model conversation per sender and replies with
// whatever the model says.
type Conversational struct {
	responder Responder
	log       *slog.Logger

	mu            sync.Mutex
	conversations map[string]string
}

func NewConversational(responder Responder, log *slog.Logger) *Conversational {
	return &Conversational{
		responder:     responder,
		log:           log.With("component", "processor.openai"),
		conversations: make(map[string]string),
	}
}

func (c *Conversational) Process(ctx context.Context, msg bus.InboundMessage, out channel.Output) error {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil
	}

	conversationID, err := c.conversation(ctx, msg.SenderID)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	reply, err := c.responder.Respond(ctx, conversationID, text)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	c.log.Debug("Model replied",
		"sender_id", msg.SenderID,
		"conversation_id", conversationID,
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"response_length", len(reply),
	)

	return out.SendText(ctx, reply)
}

// conversation returns the sender's conversation, creating it on first use.
// Concurrent first messages from one sender may race to create; the first
// one stored wins.
func (c *Conversational) conversation(ctx context.Context, senderID string) (string, error) {
	c.mu.Lock()
	id, ok := c.conversations[senderID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	created, err := c.responder.NewConversation(ctx)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conversations[senderID]; ok {
		return existing, nil
	}
	c.conversations[senderID] = created
	c.log.Info("Conversation created", "sender_id", senderID, "conversation_id", created)
	return created, nil
}

type openAIResponder struct {
	client         osdk.Client
	model          string
	instructions   string
	requestTimeout time.Duration
}

func newOpenAIResponder(cfg config.OpenAIProcessorConfig) (*openAIResponder, error) {
	apiKey := resolveAPIKey(cfg)
	if apiKey == "" {
		return nil, errors.New("processor.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = config.DefaultOpenAIModel
	}

	return &openAIResponder{
		client:         osdk.NewClient(opts...),
		model:          model,
		instructions:   strings.TrimSpace(cfg.Instructions),
		requestTimeout: requestTimeout,
	}, nil
}

func (r *openAIResponder) NewConversation(ctx context.Context) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	conversation, err := r.client.Conversations.New(ctx, conversations.ConversationNewParams{})
	if err != nil {
		return "", err
	}
	if conversation == nil || strings.TrimSpace(conversation.ID) == "" {
		return "", errors.New("empty conversation id")
	}

	return strings.TrimSpace(conversation.ID), nil
}

func (r *openAIResponder) Respond(ctx context.Context, conversationID string, text string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	params := responses.ResponseNewParams{
		Model: r.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: osdk.String(text)},
		Conversation: responses.ResponseNewParamsConversationUnion{
			OfConversationObject: &responses.ResponseConversationParam{ID: conversationID},
		},
	}
	if r.instructions != "" {
		params.Instructions = osdk.String(r.instructions)
	}

	response, err := r.client.Responses.New(ctx, params)
	if err != nil {
		return "", err
	}

	reply := strings.TrimSpace(response.OutputText())
	if reply == "" {
		return "", errors.New("response returned no text")
	}

	return reply, nil
}

func (r *openAIResponder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, r.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProcessorConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}
