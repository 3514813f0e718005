// Package logger builds the process slog.Logger: a charmbracelet text
// handler for terminals or a flat JSON entry handler for log shippers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"socketbot/pkg/config"
)

const (
	envFormat    = "SOCKETBOT_LOG_FORMAT"
	envLevel     = "SOCKETBOT_LOG_LEVEL"
	envAddSource = "SOCKETBOT_LOG_ADD_SOURCE"

	formatText = "text"
	formatJSON = "json"
)

type options struct {
	format    string
	level     slog.Level
	addSource bool
}

func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	opts, err := resolveOptions(cfg)
	if err != nil {
		return nil, err
	}

	if opts.format == formatText {
		pretty := charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(opts.level),
			ReportTimestamp: true,
			ReportCaller:    opts.addSource,
			Formatter:       charmLog.TextFormatter,
		})
		return slog.New(pretty), nil
	}

	return slog.New(newEntryHandler(writer, opts.level, opts.addSource)), nil
}

// resolveOptions merges config values with SOCKETBOT_LOG_* overrides.
func resolveOptions(cfg config.LoggingConfig) (options, error) {
	format := override(envFormat, cfg.Format)
	if format == "" {
		format = formatText
	}
	if format != formatJSON && format != formatText {
		return options{}, fmt.Errorf("unsupported log format %q", format)
	}

	level, err := parseLevel(override(envLevel, cfg.Level))
	if err != nil {
		return options{}, err
	}

	addSource := cfg.AddSource
	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		addSource = parseBool(raw)
	}

	return options{format: format, level: level, addSource: addSource}, nil
}

func override(envKey string, value string) string {
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		value = env
	}

	return strings.ToLower(strings.TrimSpace(value))
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseLevel(levelText string) (slog.Level, error) {
	switch levelText {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", levelText)
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
