package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opensource-finance/notas/internal/domain"
)

// LogSink writes statements to the sql log channel: starts at debug,
// completions at info, slow completions at warn.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. The logger is tagged logger=sql.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("logger", "sql")}
}

// Start implements Sink.
func (s *LogSink) Start(ctx context.Context, rec domain.AuditRecord) {
	s.logger.DebugContext(ctx, "sql_start",
		"conn_id", rec.ConnID,
		"statement", rec.Statement,
		"parameters", rec.Parameters,
	)
}

// Complete implements Sink.
func (s *LogSink) Complete(ctx context.Context, rec domain.AuditRecord) {
	attrs := []any{
		"conn_id", rec.ConnID,
		"statement", rec.Statement,
		"parameters", rec.Parameters,
		"duration_ms", rec.DurationMs,
		"slow", rec.Slow,
	}
	if rec.Err != "" {
		attrs = append(attrs, "error", rec.Err)
	}
	if rec.Slow {
		s.logger.WarnContext(ctx, "sql_slow", attrs...)
		return
	}
	s.logger.InfoContext(ctx, "sql_complete", attrs...)
}

// TraceSink adds a span event per completed statement to the span in the
// statement's context, if any.
type TraceSink struct{}

// Start implements Sink.
func (TraceSink) Start(context.Context, domain.AuditRecord) {}

// Complete implements Sink.
func (TraceSink) Complete(ctx context.Context, rec domain.AuditRecord) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("sql", trace.WithAttributes(
		attribute.String("db.statement", rec.Statement),
		attribute.Float64("db.duration_ms", rec.DurationMs),
		attribute.Bool("db.slow", rec.Slow),
	))
}

// BusSink publishes slow statements on the event bus. The channel bus drops
// messages when a subscriber is behind, so publishing never queues.
type BusSink struct {
	bus domain.EventBus
}

// NewBusSink creates a slow statement publisher.
func NewBusSink(bus domain.EventBus) *BusSink {
	return &BusSink{bus: bus}
}

// Start implements Sink.
func (s *BusSink) Start(context.Context, domain.AuditRecord) {}

// Complete implements Sink.
func (s *BusSink) Complete(ctx context.Context, rec domain.AuditRecord) {
	if !rec.Slow {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}
	// Detached from request cancellation; the publish itself does not block.
	_ = s.bus.Publish(context.WithoutCancel(ctx), domain.TopicSlowQuery, payload)
}

// NewLogger builds the sql channel logger. With a log file configured,
// output goes to a size rotated file; otherwise to stdout.
func NewLogger(cfg domain.AuditConfig, logging domain.LoggingConfig) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out, closer = rotating, rotating
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(logging.Level)}
	var h slog.Handler
	if strings.EqualFold(logging.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), closer
}

// ParseLevel maps a configured level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
