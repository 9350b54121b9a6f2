// Package ws implements the transport contract over WebSocket using
// github.com/coder/websocket. One connection carries one voice session:
// binary messages are raw PCM audio chunks, text messages are JSON control
// (open, close, candidate). Outbound results go back as JSON text.
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vaani-ai/voicecore/internal/transport"
	"github.com/vaani-ai/voicecore/pkg/audio"
)

// controlMessage is the JSON shape of inbound text messages.
type controlMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Data       string `json:"data,omitempty"`
}

// Server accepts WebSocket connections and dispatches their traffic to the
// registered Handler. Implements transport.Transport.
type Server struct {
	mu       sync.Mutex
	handler  transport.Handler
	sessions map[string]*session
}

var _ transport.Transport = (*Server)(nil)

// NewServer creates a Server with no sessions.
func NewServer() *Server {
	return &Server{sessions: make(map[string]*session)}
}

// SetHandler registers the inbound handler.
func (s *Server) SetHandler(h transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Session returns the open session with the given ID.
func (s *Server) Session(id string) (transport.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Handler returns the HTTP handler serving the streaming endpoint at
// GET /v1/stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	return mux
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		http.Error(w, "no session handler registered", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}

	sess := &session{conn: conn}
	defer s.teardown(r.Context(), sess, handler)

	s.readLoop(r.Context(), conn, sess, handler)
}

// readLoop dispatches inbound messages until the connection drops. Audio
// timing is reconstructed downstream from sample counts, so binary chunks
// carry no timestamps on the wire.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session, handler transport.Handler) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			sess.readErr = err
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if sess.id == "" {
				// Audio before open has no session to belong to.
				continue
			}
			frame := audio.Frame{
				Data:       data,
				SampleRate: sess.sampleRate,
				Channels:   sess.channels,
			}
			if err := handler.HandleChunk(ctx, sess.id, frame); err != nil {
				sess.sendError(ctx, err)
			}

		case websocket.MessageText:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				sess.sendError(ctx, fmt.Errorf("invalid control message: %w", err))
				continue
			}
			s.handleControl(ctx, sess, handler, msg)
		}
	}
}

func (s *Server) handleControl(ctx context.Context, sess *session, handler transport.Handler, msg controlMessage) {
	switch msg.Type {
	case "open":
		if sess.id != "" {
			sess.sendError(ctx, fmt.Errorf("session %q already open on this connection", sess.id))
			return
		}
		id := msg.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		sess.id = id
		sess.sampleRate = msg.SampleRate
		if sess.sampleRate <= 0 {
			sess.sampleRate = audio.DefaultSampleRate
		}
		sess.channels = msg.Channels
		if sess.channels <= 0 {
			sess.channels = 1
		}

		s.mu.Lock()
		s.sessions[id] = sess
		s.mu.Unlock()

		if err := handler.HandleOpen(ctx, id, msg.Language); err != nil {
			sess.sendError(ctx, err)
			return
		}
		_ = sess.Send(ctx, transport.Message{
			Type:    "opened",
			Payload: map[string]any{"session_id": id},
		})

	case "close":
		if sess.id == "" {
			return
		}
		sess.closed = true
		if err := handler.HandleClose(ctx, sess.id); err != nil {
			sess.sendError(ctx, err)
		}

	case "candidate":
		raw, err := base64.StdEncoding.DecodeString(msg.Data)
		if err != nil {
			sess.sendError(ctx, fmt.Errorf("invalid candidate encoding: %w", err))
			return
		}
		answer, err := sess.ExchangeCandidate(ctx, raw)
		if err != nil {
			sess.sendError(ctx, err)
			return
		}
		_ = sess.Send(ctx, transport.Message{
			Type:    "candidate",
			Payload: map[string]any{"data": base64.StdEncoding.EncodeToString(answer)},
		})

	default:
		sess.sendError(ctx, fmt.Errorf("unknown control message type %q", msg.Type))
	}
}

// teardown deregisters the session and fires the failure callback exactly
// once when the connection dropped abnormally mid-session.
func (s *Server) teardown(ctx context.Context, sess *session, handler transport.Handler) {
	if sess.id != "" {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
	}

	abnormal := sess.id != "" && !sess.closed && ctx.Err() == nil
	if abnormal {
		status := websocket.CloseStatus(sess.readErr)
		abnormal = status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway
	}
	if abnormal {
		sess.failOnce.Do(func() {
			slog.Warn("session connection lost", "session_id", sess.id, "err", sess.readErr)
			handler.HandleFailure(sess.id, sess.readErr)
		})
	}

	sess.conn.Close(websocket.StatusNormalClosure, "connection closed")
}

// session is one WebSocket-backed voice session. Implements transport.Session.
type session struct {
	conn       *websocket.Conn
	id         string
	sampleRate int
	channels   int

	// closed is set by the close control message; a connection loss with
	// closed unset is abnormal.
	closed bool

	readErr  error
	failOnce sync.Once

	writeMu sync.Mutex
}

var _ transport.Session = (*session)(nil)

// ID returns the session key.
func (s *session) ID() string { return s.id }

// Send marshals msg and writes it as one text message.
func (s *session) Send(ctx context.Context, msg transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ExchangeCandidate has no negotiation step over plain WebSocket; the
// candidate is returned unchanged.
func (s *session) ExchangeCandidate(_ context.Context, candidate []byte) ([]byte, error) {
	return candidate, nil
}

// Close ends the session cleanly.
func (s *session) Close(context.Context) error {
	s.closed = true
	return s.conn.Close(websocket.StatusNormalClosure, "session closed")
}

func (s *session) sendError(ctx context.Context, err error) {
	_ = s.Send(ctx, transport.Message{
		Type:    "error",
		Payload: map[string]any{"error": err.Error()},
	})
}
