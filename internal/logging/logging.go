// Package logging provides the structured logger used across mcpmux.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// Logger is the minimal structured logging interface every component
// depends on. It never panics. ProductionLogger writes each line
// synchronously, so a full output pipe blocks the caller.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a component tag its own log lines without
// threading a component string through every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as a safe zero value.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                              {}
func (NoOpLogger) Warn(string, map[string]interface{})                              {}
func (NoOpLogger) Error(string, map[string]interface{})                             {}
func (NoOpLogger) Debug(string, map[string]interface{})                             {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

type requestIDKey struct{}

// WithRequestID attaches a request id to the context so ProductionLogger
// can surface it as correlation metadata in every log line.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// ProductionLogger writes JSON to stderr in production, human-readable
// text to stderr in development. stdout is never touched: the MCP stdio
// transport owns it exclusively.
type ProductionLogger struct {
	level     string
	debug     bool
	service   string
	component string
	format    string
	output    io.Writer
}

// New creates the process logger. format is "json" or "text"; it is
// auto-detected from the environment when empty (see DetectFormat).
func New(service, level, format string) *ProductionLogger {
	if level == "" {
		level = "info"
	}
	if format == "" {
		format = DetectFormat()
	}
	return &ProductionLogger{
		level:   strings.ToLower(level),
		debug:   strings.ToLower(level) == "debug",
		service: service,
		format:  format,
		output:  os.Stderr,
	}
}

// DetectFormat picks JSON for aggregated log pipelines (detected via the
// Kubernetes service env var), text for a developer's terminal.
func DetectFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" || os.Getenv("MCPMUX_LOG_FORMAT") == "json" {
		return "json"
	}
	return "text"
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "INFO", msg, fields)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "WARN", msg, fields)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "ERROR", msg, fields)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	ts := time.Now().UTC().Format(time.RFC3339)
	reqID := requestIDFrom(ctx)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   p.service,
			"component": p.component,
			"message":   msg,
		}
		if reqID != "" {
			entry["request_id"] = reqID
		}
		for k, v := range fields {
			entry[k] = Redact(fmt.Sprintf("%v", v))
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, Redact(fmt.Sprintf("%v", v)))
	}
	reqInfo := ""
	if reqID != "" {
		reqInfo = fmt.Sprintf("[req=%s] ", reqID)
	}
	fmt.Fprintf(p.output, "%s [%-5s] [%s/%s] %s%s%s\n", ts, level, p.service, p.component, reqInfo, msg, b.String())
}

var (
	bearerRe = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`)
	authKV   = regexp.MustCompile(`(?i)("?(api[_-]?key|authorization|token|secret)"?\s*[:=]\s*"?)([^"\s,}]+)`)
)

// Redact strips API keys and Authorization header values out of any
// string that might reach a log line or a tool response.
func Redact(s string) string {
	s = bearerRe.ReplaceAllString(s, "${1}[REDACTED]")
	s = authKV.ReplaceAllString(s, "${1}[REDACTED]")
	return s
}
