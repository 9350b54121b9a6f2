// Package store persists cached models and schemes across restarts, so a
// device that boots offline can reload its caches without the cloud.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ModelRecord is one persisted recognition model.
type ModelRecord struct {
	ID        string
	Language  string
	Version   string
	Checksum  string
	Data      []byte
	UpdatedAt time.Time
}

// SchemeRecord is one persisted processing scheme.
type SchemeRecord struct {
	ID        string
	Version   string
	Data      map[string]any
	FetchedAt time.Time
	TTL       time.Duration
}

// Store persists models and schemes. Implementations must be safe for
// concurrent use.
type Store interface {
	PutModel(ctx context.Context, m ModelRecord) error
	GetModel(ctx context.Context, id string) (ModelRecord, error)
	ListModels(ctx context.Context) ([]ModelRecord, error)
	DeleteModel(ctx context.Context, id string) error

	PutScheme(ctx context.Context, s SchemeRecord) error
	GetScheme(ctx context.Context, id string) (SchemeRecord, error)
	ListSchemes(ctx context.Context) ([]SchemeRecord, error)
	DeleteScheme(ctx context.Context, id string) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}
