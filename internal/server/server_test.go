package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/autocapture/internal/ledger"
	"github.com/GriffinCanCode/autocapture/internal/pipeline"
	"github.com/GriffinCanCode/autocapture/internal/syncx"
)

type fakeStatus struct {
	*syncx.Watched[pipeline.Status]
}

func (f fakeStatus) Snapshot() pipeline.Status { return f.Get() }

func newStatus() fakeStatus {
	return fakeStatus{syncx.NewWatched(pipeline.Status{SessionID: "20260101_120000", State: pipeline.Running})}
}

type fakeLister struct {
	entries []ledger.Entry
	err     error
	limit   int
}

func (f *fakeLister) Recent(_ context.Context, limit int) ([]ledger.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/session", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}

	rec = get(t, handler, "/api/session")
	if rec.Code != http.StatusTeapot {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestHealth(t *testing.T) {
	st := newStatus()
	h := New(":0", st, nil).Handler()

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"running"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("x-trace-id"))

	st.Update(func(s *pipeline.Status) { s.State = pipeline.Stopped })
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/healthz").Code)
}

func TestSession(t *testing.T) {
	st := newStatus()
	st.Update(func(s *pipeline.Status) {
		s.Captures = 4
		s.Last = &pipeline.Outcome{Index: 4, Delivered: true}
	})

	rec := get(t, New(":0", st, nil).Handler(), "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "20260101_120000", body["session_id"])
	assert.Equal(t, "running", body["state"])
	assert.EqualValues(t, 4, body["captures"])
}

func TestCaptures(t *testing.T) {
	lister := &fakeLister{entries: []ledger.Entry{{ID: "a", SessionID: "s", Index: 2}, {ID: "b", SessionID: "s", Index: 1}}}
	h := New(":0", newStatus(), lister).Handler()

	rec := get(t, h, "/api/captures?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, lister.limit)

	var body struct {
		Captures []ledger.Entry `json:"captures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Captures, 2)

	get(t, h, "/api/captures?limit=100000")
	assert.Equal(t, MaxCaptureLimit, lister.limit)

	get(t, h, "/api/captures")
	assert.Equal(t, DefaultCaptureLimit, lister.limit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/captures?limit=abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/captures?limit=-1").Code)
}

func TestCapturesErrors(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, get(t, New(":0", newStatus(), nil).Handler(), "/api/captures").Code)

	broken := &fakeLister{err: errors.New("database is locked")}
	assert.Equal(t, http.StatusInternalServerError, get(t, New(":0", newStatus(), broken).Handler(), "/api/captures").Code)

	empty := &fakeLister{}
	rec := get(t, New(":0", newStatus(), empty).Handler(), "/api/captures")
	assert.JSONEq(t, `{"captures":[]}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, New(":0", newStatus(), nil).Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "autocapture_"), "metrics output missing autocapture series")
}

func TestWebSocketStatusFeed(t *testing.T) {
	st := newStatus()
	srv := httptest.NewServer(New(":0", st, nil).Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first StatusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "status", first.Type)
	assert.Equal(t, "20260101_120000", first.Status.SessionID)

	st.Update(func(s *pipeline.Status) { s.Captures = 1 })
	var second StatusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &second))
	assert.Equal(t, int64(1), second.Status.Captures)

	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: "bogus"}))
	var errMsg ErrorMessage
	require.NoError(t, wsjson.Read(ctx, conn, &errMsg))
	assert.Equal(t, "unknown message type", errMsg.Message)

	require.NoError(t, wsjson.Write(ctx, conn, Message{Type: "snapshot"}))
	var third StatusMessage
	require.NoError(t, wsjson.Read(ctx, conn, &third))
	assert.Equal(t, "status", third.Type)
}

func TestStartAndShutdown(t *testing.T) {
	s := New("127.0.0.1:0", newStatus(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
