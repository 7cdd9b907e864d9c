// Package observability provides the structured logging and metrics
// primitives shared by every process in this repository.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request/tenant correlation and secret redaction.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string
	// Format specifies output format: "json" or "text".
	Format string
	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer
	// AddSource includes file and line number in log records.
	AddSource bool
	// RedactPatterns are additional regex patterns for sensitive data redaction.
	RedactPatterns []string
}

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	tenantKey        contextKey = "tenant"
	teamKey          contextKey = "team"
	platformKey      contextKey = "platform"
)

// DefaultRedactPatterns covers secrets that must never reach a log line:
// HMAC/webhook secrets, bearer tokens, and Direct Line JWTs.
var DefaultRedactPatterns = []string{
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd|hmac[_-]?secret)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

// NewLogger creates a structured logger. Output defaults to os.Stdout,
// level to "info", format to "json".
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "text" {
		handler = slog.NewTextHandler(config.Output, opts)
	} else {
		handler = slog.NewJSONHandler(config.Output, opts)
	}

	allPatterns := append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(allPatterns))
	for _, pattern := range allPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{logger: slog.New(handler), config: config, redacts: redacts}
}

// Slog returns the underlying *slog.Logger, for components that take a
// plain slog.Logger directly (internal/gateway, internal/egress) rather
// than this package's context-aware, redacting wrapper.
func (l *Logger) Slog() *slog.Logger { return l.logger }

// WithContext carries correlation_id/tenant/team/platform from ctx into
// every subsequent log record from the returned logger.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := make([]any, 0, 8)
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		attrs = append(attrs, "correlation_id", v)
	}
	if v, ok := ctx.Value(tenantKey).(string); ok && v != "" {
		attrs = append(attrs, "tenant", v)
	}
	if v, ok := ctx.Value(teamKey).(string); ok && v != "" {
		attrs = append(attrs, "team", v)
	}
	if v, ok := ctx.Value(platformKey).(string); ok && v != "" {
		attrs = append(attrs, "platform", v)
	}
	if len(attrs) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(attrs...), config: l.config, redacts: l.redacts}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelDebug, msg, args...) }
func (l *Logger) Info(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(ctx context.Context, msg string, args ...any)  { l.log(ctx, slog.LevelWarn, msg, args...) }
func (l *Logger) Error(ctx context.Context, msg string, args ...any) { l.log(ctx, slog.LevelError, msg, args...) }

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)
	redacted := make([]any, len(args))
	for i, a := range args {
		redacted[i] = l.redactValue(a)
	}
	l.logger.Log(ctx, level, msg, redacted...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// WithFields returns a new logger carrying static key/value pairs on every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...), config: l.config, redacts: l.redacts}
}

// ContextWithCorrelation attaches correlation/tenant/team/platform fields
// for later extraction by WithContext.
func ContextWithCorrelation(ctx context.Context, correlationID, tenant, team, platform string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey, correlationID)
	ctx = context.WithValue(ctx, tenantKey, tenant)
	ctx = context.WithValue(ctx, teamKey, team)
	return context.WithValue(ctx, platformKey, platform)
}

// LogLevelFromString converts a string to a slog.Level, defaulting to Info.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
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
