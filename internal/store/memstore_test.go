package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemStore_ModelRoundtrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := ModelRecord{
		ID:        "whisper-tiny-en",
		Language:  "en",
		Version:   "3",
		Checksum:  "abc123",
		Data:      []byte{1, 2, 3},
		UpdatedAt: time.Unix(100, 0),
	}
	if err := s.PutModel(ctx, rec); err != nil {
		t.Fatalf("PutModel: %v", err)
	}

	got, err := s.GetModel(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Checksum != rec.Checksum || got.Language != rec.Language {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	list, err := s.ListModels(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListModels = (%v, %v), want one record", list, err)
	}

	if err := s.DeleteModel(ctx, rec.ID); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	if _, err := s.GetModel(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetModel after delete = %v, want ErrNotFound", err)
	}
}

func TestMemStore_SchemeRoundtrip(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := SchemeRecord{
		ID:        "grammar",
		Version:   "v2",
		Data:      map[string]any{"hints": []string{"call", "play"}},
		FetchedAt: time.Unix(100, 0),
		TTL:       time.Hour,
	}
	if err := s.PutScheme(ctx, rec); err != nil {
		t.Fatalf("PutScheme: %v", err)
	}

	got, err := s.GetScheme(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetScheme: %v", err)
	}
	if got.Version != rec.Version || got.TTL != rec.TTL {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	if _, err := s.GetScheme(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetScheme(missing) = %v, want ErrNotFound", err)
	}
}
