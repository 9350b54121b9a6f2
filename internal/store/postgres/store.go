// Package postgres implements store.Store on PostgreSQL, for gateway-class
// deployments where many devices share one durable cache.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaani-ai/voicecore/internal/store"
)

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to the database and applies the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PutModel upserts a model record.
func (s *Store) PutModel(ctx context.Context, m store.ModelRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO models (id, language, version, checksum, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			language = EXCLUDED.language,
			version = EXCLUDED.version,
			checksum = EXCLUDED.checksum,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.Language, m.Version, m.Checksum, m.Data, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put model %q: %w", m.ID, err)
	}
	return nil
}

// GetModel returns the model with the given ID.
func (s *Store) GetModel(ctx context.Context, id string) (store.ModelRecord, error) {
	var m store.ModelRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, language, version, checksum, data, updated_at
		FROM models WHERE id = $1`, id).
		Scan(&m.ID, &m.Language, &m.Version, &m.Checksum, &m.Data, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ModelRecord{}, fmt.Errorf("model %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.ModelRecord{}, fmt.Errorf("get model %q: %w", id, err)
	}
	return m, nil
}

// ListModels returns every stored model.
func (s *Store) ListModels(ctx context.Context) ([]store.ModelRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, language, version, checksum, data, updated_at
		FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []store.ModelRecord
	for rows.Next() {
		var m store.ModelRecord
		if err := rows.Scan(&m.ID, &m.Language, &m.Version, &m.Checksum, &m.Data, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteModel removes a model. Deleting a missing model is not an error.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete model %q: %w", id, err)
	}
	return nil
}

// PutScheme upserts a scheme record. The payload is stored as JSONB.
func (s *Store) PutScheme(ctx context.Context, rec store.SchemeRecord) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode scheme %q: %w", rec.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO schemes (id, version, data, fetched_at, ttl_seconds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			version = EXCLUDED.version,
			data = EXCLUDED.data,
			fetched_at = EXCLUDED.fetched_at,
			ttl_seconds = EXCLUDED.ttl_seconds`,
		rec.ID, rec.Version, data, rec.FetchedAt, int64(rec.TTL.Seconds()))
	if err != nil {
		return fmt.Errorf("put scheme %q: %w", rec.ID, err)
	}
	return nil
}

// GetScheme returns the scheme with the given ID.
func (s *Store) GetScheme(ctx context.Context, id string) (store.SchemeRecord, error) {
	var (
		rec        store.SchemeRecord
		data       []byte
		ttlSeconds int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, version, data, fetched_at, ttl_seconds
		FROM schemes WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Version, &data, &rec.FetchedAt, &ttlSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.SchemeRecord{}, fmt.Errorf("scheme %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.SchemeRecord{}, fmt.Errorf("get scheme %q: %w", id, err)
	}
	if err := json.Unmarshal(data, &rec.Data); err != nil {
		return store.SchemeRecord{}, fmt.Errorf("decode scheme %q: %w", id, err)
	}
	rec.TTL = time.Duration(ttlSeconds) * time.Second
	return rec, nil
}

// ListSchemes returns every stored scheme.
func (s *Store) ListSchemes(ctx context.Context) ([]store.SchemeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, version, data, fetched_at, ttl_seconds
		FROM schemes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list schemes: %w", err)
	}
	defer rows.Close()

	var out []store.SchemeRecord
	for rows.Next() {
		var (
			rec        store.SchemeRecord
			data       []byte
			ttlSeconds int64
		)
		if err := rows.Scan(&rec.ID, &rec.Version, &data, &rec.FetchedAt, &ttlSeconds); err != nil {
			return nil, fmt.Errorf("scan scheme: %w", err)
		}
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode scheme %q: %w", rec.ID, err)
		}
		rec.TTL = time.Duration(ttlSeconds) * time.Second
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteScheme removes a scheme. Deleting a missing scheme is not an error.
func (s *Store) DeleteScheme(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM schemes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete scheme %q: %w", id, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
