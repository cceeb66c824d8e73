package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/autocapture/internal/metrics"
	"github.com/GriffinCanCode/autocapture/internal/pipeline"
	"github.com/GriffinCanCode/autocapture/internal/trace"
)

// Message is the envelope for client requests.
type Message struct {
	Type string `json:"type"`
}

// StatusMessage carries a status snapshot.
type StatusMessage struct {
	Type   string          `json:"type"`
	Status pipeline.Status `json:"status"`
}

// ErrorMessage reports a rejected request.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleWebSocket pushes a status message on connect and after every change.
// Clients may send {"type":"snapshot"} to request the current status.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()
	log.Info("websocket connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan Message)
	go func() {
		defer cancel()
		for {
			var msg Message
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				log.Debug("websocket read error", "error", err)
				return
			}
			select {
			case requests <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	limiter := rate.NewLimiter(WSMessagesPerSecond, WSMessageBurst)
	for {
		changed := s.status.Changed()
		if err := s.write(ctx, conn, StatusMessage{Type: "status", Status: s.status.Snapshot()}); err != nil {
			log.Debug("websocket write error", "error", err)
			return
		}
		if !s.await(ctx, conn, changed, requests, limiter) {
			return
		}
	}
}

// await blocks until the status changes or a valid snapshot request
// arrives. It returns false once the connection is done.
func (s *Server) await(ctx context.Context, conn *websocket.Conn, changed <-chan struct{}, requests <-chan Message, limiter *rate.Limiter) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-changed:
			return true
		case msg := <-requests:
			switch {
			case !limiter.Allow():
				trace.Logger(ctx).Warn("rate limit exceeded")
				_ = s.write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			case msg.Type != "snapshot":
				_ = s.write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown message type"})
			default:
				return true
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
