// Package mock provides test doubles for the transport package interfaces.
//
// A Transport starts with no sessions; use AddSession to register a Session
// whose Sent slice records every outbound message. Drive the registered
// Handler directly to simulate inbound traffic.
package mock

import (
	"context"
	"sync"

	"github.com/vaani-ai/voicecore/internal/transport"
)

// Session is a mock implementation of transport.Session.
type Session struct {
	mu sync.Mutex

	// SessionID is returned by ID.
	SessionID string

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// Sent records every message passed to Send in order.
	Sent []transport.Message

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

var _ transport.Session = (*Session)(nil)

// ID returns SessionID.
func (s *Session) ID() string { return s.SessionID }

// Send records the message and returns SendErr.
func (s *Session) Send(_ context.Context, msg transport.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent = append(s.Sent, msg)
	return s.SendErr
}

// ExchangeCandidate echoes the candidate back.
func (s *Session) ExchangeCandidate(_ context.Context, candidate []byte) ([]byte, error) {
	return candidate, nil
}

// Close records the call.
func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

// SentMessages returns a copy of the recorded messages. Thread-safe.
func (s *Session) SentMessages() []transport.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Message(nil), s.Sent...)
}

// Transport is a mock implementation of transport.Transport.
type Transport struct {
	mu       sync.Mutex
	handler  transport.Handler
	sessions map[string]*Session
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport creates an empty mock transport.
func NewTransport() *Transport {
	return &Transport{sessions: make(map[string]*Session)}
}

// SetHandler records the handler for Handler().
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Handler returns the registered handler, for driving inbound events.
func (t *Transport) Handler() transport.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// AddSession registers a mock session and returns it.
func (t *Transport) AddSession(id string) *Session {
	s := &Session{SessionID: id}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = s
	return s
}

// Session returns the mock session with the given ID.
func (t *Transport) Session(id string) (transport.Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}
