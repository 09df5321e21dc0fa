// Package observability provides structured logging and metrics for the
// message pipeline.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// ContextKey is the type for context keys carried through a query run.
type ContextKey string

const (
	// QueryIDKey correlates log records belonging to one query.
	QueryIDKey ContextKey = "query_id"

	// SessionKey carries the "{launcher_type}_{launcher_id}" session key.
	SessionKey ContextKey = "session"

	// PipelineKey carries the pipeline UUID driving the query.
	PipelineKey ContextKey = "pipeline"
)

// defaultRedactPatterns cover credentials that tend to leak into LLM and
// adapter error messages.
var defaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey|token|secret|password)[\s:=]+["']?([a-zA-Z0-9_\-\.]{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{20,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level: "debug", "info", "warn" or "error". Defaults to "info".
	Level string `yaml:"level"`

	// Format: "json" (default) or "text".
	Format string `yaml:"format"`

	// Output defaults to os.Stdout.
	Output io.Writer `yaml:"-"`

	// RedactPatterns are extra regexes applied on top of the defaults.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// Logger is a slog wrapper that redacts secrets and attaches query
// correlation fields from the context.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// NewLogger builds a Logger from config, applying defaults for zero values.
func NewLogger(cfg LogConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	patterns := append(append([]string{}, defaultRedactPatterns...), cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), redacts: redacts}
}

// NewTestLogger returns a logger that discards output, for tests.
func NewTestLogger() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// With returns a logger with the given attributes attached to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redact(msg)
	attrs := make([]any, 0, len(args)+6)
	for i := 0; i+1 < len(args); i += 2 {
		attrs = append(attrs, args[i], l.redactValue(args[i+1]))
	}
	if ctx != nil {
		for _, key := range []ContextKey{QueryIDKey, SessionKey, PipelineKey} {
			if v, ok := ctx.Value(key).(string); ok && v != "" {
				attrs = append(attrs, string(key), v)
			}
		}
		if v, ok := ctx.Value(QueryIDKey).(uint64); ok {
			attrs = append(attrs, string(QueryIDKey), v)
		}
	}
	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redact(val)
	case error:
		if val != nil {
			return l.redact(val.Error())
		}
		return val
	default:
		return v
	}
}
