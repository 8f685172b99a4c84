// Package logger builds the structured log/slog loggers used by the worker and
// the CLI, and carries ranking-specific attribute helpers so every component
// logs disciplines, snapshot dates and runs under the same keys.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	// FormatJSON is used in production (log aggregators).
	FormatJSON Format = "json"
	// FormatText is used in development.
	FormatText Format = "text"
)

// Options configures a logger.
type Options struct {
	Level     slog.Level
	Format    Format
	Output    io.Writer
	AddSource bool

	// Service is attached to every record.
	Service string
}

// DefaultOptions returns info-level text logging to stdout.
func DefaultOptions() Options {
	return Options{
		Level:  slog.LevelInfo,
		Format: FormatText,
		Output: os.Stdout,
	}
}

// ParseLevel parses a level name; unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ParseFormat parses a format name; anything but "json" is text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatText
}

// New creates a *slog.Logger from options.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     opts.Level,
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if opts.Format == FormatJSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := slog.New(handler)
	if opts.Service != "" {
		l = l.With(slog.String("service", opts.Service))
	}
	return l
}

// Discard returns a logger that drops everything (tests, quiet CLI runs).
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

// WithContext stores a logger in the context.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTRIBUTES
// ══════════════════════════════════════════════════════════════════════════════

// Attribute keys shared across components.
const (
	KeyDiscipline    = "discipline"
	KeyKind          = "kind"
	KeySnapshotDate  = "snapshot_date"
	KeyReferenceDate = "reference_date"
	KeyRunID         = "run_id"
	KeyComponent     = "component"
	KeyOperation     = "operation"
	KeyLatency       = "latency"
	KeyError         = "error"
	KeyRequestID     = "request_id"
)

func Discipline(d string) slog.Attr       { return slog.String(KeyDiscipline, d) }
func Kind(k string) slog.Attr             { return slog.String(KeyKind, k) }
func RunID(id string) slog.Attr           { return slog.String(KeyRunID, id) }
func Component(name string) slog.Attr     { return slog.String(KeyComponent, name) }
func Operation(name string) slog.Attr     { return slog.String(KeyOperation, name) }
func Latency(d time.Duration) slog.Attr   { return slog.Duration(KeyLatency, d) }
func RequestID(id string) slog.Attr       { return slog.String(KeyRequestID, id) }
func SnapshotDate(t time.Time) slog.Attr  { return slog.String(KeySnapshotDate, t.Format(time.DateOnly)) }
func ReferenceDate(t time.Time) slog.Attr { return slog.String(KeyReferenceDate, t.Format(time.DateOnly)) }

// Err returns an error attribute; nil errors produce an empty string value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
