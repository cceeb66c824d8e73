package trace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestInboundIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tc := Inbound("", "")
		if len(tc.TraceID) != 32 || len(tc.SpanID) != 16 {
			t.Fatalf("id lengths = (%d, %d), want (32, 16)", len(tc.TraceID), len(tc.SpanID))
		}
		if seen[tc.TraceID] {
			t.Error("generated duplicate trace ID")
		}
		seen[tc.TraceID] = true
	}
}

func TestContextPropagation(t *testing.T) {
	tc := Inbound("", "")
	ctx := WithContext(context.Background(), tc)

	extracted, ok := FromContext(ctx)
	if !ok {
		t.Fatal("should extract trace context")
	}
	if extracted.TraceID != tc.TraceID {
		t.Error("extracted trace ID mismatch")
	}

	if _, ok := FromContext(context.Background()); ok {
		t.Error("should not find trace context in empty context")
	}
}

func TestInbound(t *testing.T) {
	tc := Inbound("trace123", "span456")
	if tc.TraceID != "trace123" {
		t.Error("trace ID mismatch")
	}
	if tc.ParentSpanID != "span456" {
		t.Error("parent span should be caller's span")
	}
	if len(tc.SpanID) != 16 {
		t.Error("should generate new span ID")
	}

	if fresh := Inbound("", ""); len(fresh.TraceID) != 32 {
		t.Error("should generate trace ID if missing")
	}
}

func TestStartSpan(t *testing.T) {
	_, span := StartSpan(context.Background(), "capture_iteration")

	if span.Name != "capture_iteration" {
		t.Error("span name mismatch")
	}
	if span.Start.IsZero() {
		t.Error("span should have start time")
	}
	if span.Ctx.ParentSpanID != "" {
		t.Error("root span should have no parent")
	}

	span.SetAttr("capture", 3)
	span.Finish(errors.New("delivery failed"))

	if span.End.IsZero() {
		t.Error("span should have end time")
	}
	if span.Attrs["error"] != "delivery failed" {
		t.Errorf("error attr = %v", span.Attrs["error"])
	}
}

func TestSpanNested(t *testing.T) {
	ctx, parent := StartSpan(context.Background(), "parent")
	_, child := StartSpan(ctx, "child")

	if child.Ctx.TraceID != parent.Ctx.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.Ctx.ParentSpanID != parent.Ctx.SpanID {
		t.Error("child's parent should be parent's span")
	}
}

func TestMiddleware(t *testing.T) {
	var seen Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set(TraceIDKey, "abc")
	req.Header.Set(SpanIDKey, "caller")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen.TraceID != "abc" || seen.ParentSpanID != "caller" {
		t.Errorf("handler saw %+v", seen)
	}
	if got := rec.Header().Get(TraceIDKey); got != "abc" {
		t.Errorf("response trace header = %q, want abc", got)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	md := metadata.Pairs(TraceIDKey, "t-1", SpanIDKey, "s-1")
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var seen Context
	handler := func(ctx context.Context, _ any) (any, error) {
		seen, _ = FromContext(ctx)
		return "ok", nil
	}

	resp, err := UnaryServerInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	if err != nil || resp != "ok" {
		t.Fatalf("interceptor = (%v, %v)", resp, err)
	}
	if seen.TraceID != "t-1" || seen.ParentSpanID != "s-1" {
		t.Errorf("handler saw %+v", seen)
	}
}

func TestLogger(t *testing.T) {
	ctx := WithContext(context.Background(), Inbound("", ""))
	Logger(ctx).Info("test message")
	Logger(context.Background()).Info("untraced message")
}
