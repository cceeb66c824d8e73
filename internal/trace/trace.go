// Package trace correlates log lines for a single capture iteration or
// inbound request using W3C-sized trace and span identifiers.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Header and metadata keys carrying ids between processes.
const (
	TraceIDKey = "x-trace-id"
	SpanIDKey  = "x-span-id"
)

type ctxKey struct{}

// Context identifies the current span.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
}

// Inbound builds a server-side context from identifiers a caller sent.
// The caller's span becomes the parent; a missing trace id starts a new trace.
func Inbound(traceID, callerSpan string) Context {
	if traceID == "" {
		traceID = randomHex(16)
	}
	return Context{TraceID: traceID, SpanID: randomHex(8), ParentSpanID: callerSpan}
}

// FromContext returns the trace context stored in ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span times one operation. It is not safe for concurrent use.
type Span struct {
	Name  string
	Ctx   Context
	Start time.Time
	End   time.Time
	Attrs map[string]any
}

// StartSpan opens a span under the one already in ctx, or a new trace.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent, _ := FromContext(ctx)
	tc := Inbound(parent.TraceID, parent.SpanID)
	s := &Span{Name: name, Ctx: tc, Start: time.Now(), Attrs: map[string]any{}}
	return WithContext(ctx, tc), s
}

// SetAttr records a key/value logged with the span.
func (s *Span) SetAttr(key string, val any) { s.Attrs[key] = val }

// Finish closes the span and logs it: debug on success, warn with the
// error otherwise.
func (s *Span) Finish(err error) {
	s.End = time.Now()
	if err != nil {
		s.Attrs["error"] = err.Error()
		slog.Warn("span failed", "span", s)
		return
	}
	slog.Debug("span finished", "span", s)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.String("span_id", s.Ctx.SpanID),
	}
	if !s.End.IsZero() {
		attrs = append(attrs, slog.Duration("duration", s.End.Sub(s.Start)))
	}
	if s.Ctx.ParentSpanID != "" {
		attrs = append(attrs, slog.String("parent_span_id", s.Ctx.ParentSpanID))
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger annotated with the ids in ctx.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.ParentSpanID != "" {
		args = append(args, "parent_span_id", tc.ParentSpanID)
	}
	return slog.Default().With(args...)
}
