package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envConfigPath         = "SOCKETBOT_CONFIG"
	envSessionPersistence = "SOCKETBOT_SESSION_PERSISTENCE"
	envPort               = "PORT"
	envAllowedOrigins     = "ALLOWED_ORIGINS"
	envRedisURL           = "REDIS_URL"

	DefaultUserMessageEvent = "user_uttered"
	DefaultBotMessageEvent  = "bot_uttered"
	DefaultSocketIOPath     = "/socket.io"
	DefaultHost             = "0.0.0.0"
	DefaultPort             = 5005
	DefaultProcessor        = "echo"
	DefaultRedisURL         = "redis://localhost:6379"
	DefaultRedisStream      = "msg:inbound"
	DefaultReplyTimeout     = 30
	DefaultOpenAIModel      = "gpt-4o-mini"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	Server    ServerConfig    `json:"server"`
	Processor ProcessorConfig `json:"processor"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	SocketIO SocketIOConfig `json:"socketio"`
}

// SocketIOConfig configures the socket channel. Event names and the mount
// path must match what the web client uses.
type SocketIOConfig struct {
	UserMessageEvent   string   `json:"user_message_evt"`
	BotMessageEvent    string   `json:"bot_message_evt"`
	Namespace          string   `json:"namespace"`
	SessionPersistence bool     `json:"session_persistence"`
	SocketIOPath       string   `json:"socketio_path"`
	AllowedOrigins     []string `json:"allowed_origins"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ProcessorConfig selects the message processor behind the channel.
type ProcessorConfig struct {
	Type   string                `json:"type"`
	Redis  RedisProcessorConfig  `json:"redis"`
	OpenAI OpenAIProcessorConfig `json:"openai"`
}

// RedisProcessorConfig configures the redis stream bridge.
type RedisProcessorConfig struct {
	URL                 string `json:"url"`
	Stream              string `json:"stream"`
	ReplyTimeoutSeconds int    `json:"reply_timeout_seconds"`
}

// OpenAIProcessorConfig configures the OpenAI responses processor.
type OpenAIProcessorConfig struct {
	BaseURL               string `json:"base_url"`
	APIKeyEnv             string `json:"api_key_env"`
	Model                 string `json:"model"`
	Instructions          string `json:"instructions"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads .env, resolves config.json, unmarshals it, applies
// environment overrides, and fills defaults. Without a config file the
// defaults are used.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills every unset option with its documented default.
func applyDefaults(cfg *Config) {
	socket := &cfg.Channels.SocketIO
	if strings.TrimSpace(socket.UserMessageEvent) == "" {
		socket.UserMessageEvent = DefaultUserMessageEvent
	}
	if strings.TrimSpace(socket.BotMessageEvent) == "" {
		socket.BotMessageEvent = DefaultBotMessageEvent
	}
	if strings.TrimSpace(socket.SocketIOPath) == "" {
		socket.SocketIOPath = DefaultSocketIOPath
	}
	if !strings.HasPrefix(socket.SocketIOPath, "/") {
		socket.SocketIOPath = "/" + socket.SocketIOPath
	}

	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}

	processor := &cfg.Processor
	if strings.TrimSpace(processor.Type) == "" {
		processor.Type = DefaultProcessor
	}
	if strings.TrimSpace(processor.Redis.URL) == "" {
		processor.Redis.URL = DefaultRedisURL
	}
	if strings.TrimSpace(processor.Redis.Stream) == "" {
		processor.Redis.Stream = DefaultRedisStream
	}
	if processor.Redis.ReplyTimeoutSeconds <= 0 {
		processor.Redis.ReplyTimeoutSeconds = DefaultReplyTimeout
	}
	if strings.TrimSpace(processor.OpenAI.Model) == "" {
		processor.OpenAI.Model = DefaultOpenAIModel
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if raw := strings.TrimSpace(os.Getenv(envSessionPersistence)); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envSessionPersistence, err)
		}
		cfg.Channels.SocketIO.SessionPersistence = value
	}

	if raw := strings.TrimSpace(os.Getenv(envPort)); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envPort, err)
		}
		cfg.Server.Port = port
	}

	if raw := strings.TrimSpace(os.Getenv(envAllowedOrigins)); raw != "" {
		cfg.Channels.SocketIO.AllowedOrigins = parseCSV(raw)
	}

	if url := strings.TrimSpace(os.Getenv(envRedisURL)); url != "" {
		cfg.Processor.Redis.URL = url
	}

	return nil
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is SOCKETBOT_CONFIG first, then cwd-local fallback paths. An
// empty path means no config file was found.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
