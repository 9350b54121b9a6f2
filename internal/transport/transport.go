// Package transport defines the contract between the streaming surface and
// the session pipeline. A Transport owns the client connections; the pipeline
// registers a Handler for inbound audio and lifecycle events and talks back
// through per-session Send. The handshake mechanics of any given surface
// (ICE, TURN, auth) stay behind ExchangeCandidate as opaque payloads.
package transport

import (
	"context"

	"github.com/vaani-ai/voicecore/pkg/audio"
)

// Message is one outbound payload to a client, serialized as JSON by the
// concrete transport.
type Message struct {
	// Type names the message (e.g. "transcription", "session-ended").
	Type string `json:"type"`

	// Payload carries the message body.
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler receives inbound events from a Transport. One handler serves every
// session; implementations must be safe for concurrent use. Returned errors
// are reported to the client but do not tear down the connection.
type Handler interface {
	// HandleOpen is called when a client starts a voice session.
	HandleOpen(ctx context.Context, sessionID, language string) error

	// HandleChunk is called for each inbound audio chunk.
	HandleChunk(ctx context.Context, sessionID string, frame audio.Frame) error

	// HandleClose is called when a client ends a voice session cleanly.
	HandleClose(ctx context.Context, sessionID string) error

	// HandleFailure is called exactly once per session when the connection
	// is lost abnormally, so the pipeline can fall back instead of hanging.
	HandleFailure(sessionID string, err error)
}

// Session is one open client connection, keyed by session ID.
type Session interface {
	// ID returns the session key.
	ID() string

	// Send delivers a message to the client.
	Send(ctx context.Context, msg Message) error

	// ExchangeCandidate passes an opaque connectivity candidate to the peer
	// and returns its answer. Transports without a negotiation step may
	// return the input unchanged.
	ExchangeCandidate(ctx context.Context, candidate []byte) ([]byte, error)

	// Close ends the session. Closing twice is safe.
	Close(ctx context.Context) error
}

// Transport accepts client connections and dispatches inbound traffic to the
// registered Handler.
type Transport interface {
	// SetHandler registers the inbound handler. Must be called before the
	// transport starts accepting connections.
	SetHandler(h Handler)

	// Session returns the open session with the given ID.
	Session(id string) (Session, bool)
}
