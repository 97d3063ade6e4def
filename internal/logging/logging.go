// Package logging configures the process-wide slog logger and provides
// topic-scoped debug loggers that cost a single bool check when disabled.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a debug logger for one topic. The enabled check is resolved at
// construction, so callers can log unconditionally on hot paths.
type Logger struct {
	topic   string
	enabled bool
}

var enabledTopics = make(map[string]bool)

func init() {
	// DEBUG_TOPICS=simulate,oanda enables individual topics,
	// DEBUG_TOPICS=all enables everything.
	topics := os.Getenv("DEBUG_TOPICS")
	if topics == "" {
		return
	}

	if topics == "all" {
		enabledTopics["*"] = true
		return
	}

	for _, topic := range strings.Split(topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic != "" {
			enabledTopics[topic] = true
		}
	}
}

// Setup builds the process logger from the configured level and format and
// installs it as the slog default. Unknown values fall back to info and
// text, and any enabled debug topic forces the level down to debug so
// topic output is not filtered away by the handler.
func Setup(level, format string) *slog.Logger {
	lvl := ParseLevel(level)
	if len(enabledTopics) > 0 {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger for one debug topic.
// Usage: var simLog = logging.New("simulate")
func New(topic string) *Logger {
	return &Logger{
		topic:   topic,
		enabled: enabledTopics["*"] || enabledTopics[topic],
	}
}

// Enabled reports whether the topic is on, for guarding expensive
// argument construction.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Debug logs a debug message when the topic is enabled.
func (l *Logger) Debug(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Debug(msg, append([]any{"topic", l.topic}, args...)...)
}

// Info logs an info message when the topic is enabled.
func (l *Logger) Info(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Info(msg, append([]any{"topic", l.topic}, args...)...)
}

// Warn logs a warning when the topic is enabled.
func (l *Logger) Warn(msg string, args ...any) {
	if !l.enabled {
		return
	}
	slog.Warn(msg, append([]any{"topic", l.topic}, args...)...)
}
