// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/feedloom/feedloom/internal/vector"
)

// storeFactories lets every store test run against both implementations.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"badger": func(t *testing.T) Store {
		db, err := OpenBadger("", true)
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return NewBadgerStore(db)
	},
}

func unitVec(t *testing.T, dim int) vector.Vector {
	t.Helper()
	v := vector.Zero()
	v[dim] = 1
	return v
}

func TestStoreRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			p := NewProfile("user-1")
			p.CategoryAffinity["tech"] = 0.5
			if err := store.Create(ctx, p); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := store.Get(ctx, "user-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Version != 0 {
				t.Errorf("fresh profile version = %d, want 0", got.Version)
			}
			if got.CategoryAffinity["tech"] != 0.5 {
				t.Errorf("affinity not persisted: %v", got.CategoryAffinity)
			}
			if !vector.IsZero(got.Embedding) {
				t.Error("fresh profile must carry the neutral zero embedding")
			}
		})
	}
}

func TestStoreGetUnknown(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreCreateExisting(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			if err := store.Create(ctx, NewProfile("user-1")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := store.Create(ctx, NewProfile("user-1")); !errors.Is(err, ErrVersionMismatch) {
				t.Fatalf("duplicate create: expected ErrVersionMismatch, got %v", err)
			}
		})
	}
}

func TestStoreUpdateCAS(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			p := NewProfile("user-1")
			if err := store.Create(ctx, p); err != nil {
				t.Fatalf("Create: %v", err)
			}

			p.Embedding = unitVec(t, 0)
			if err := store.UpdateCAS(ctx, p, 0); err != nil {
				t.Fatalf("UpdateCAS: %v", err)
			}

			got, err := store.Get(ctx, "user-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Version != 1 {
				t.Errorf("version after CAS = %d, want 1", got.Version)
			}

			// Stale expected version must be rejected.
			if err := store.UpdateCAS(ctx, p, 0); !errors.Is(err, ErrVersionMismatch) {
				t.Fatalf("stale CAS: expected ErrVersionMismatch, got %v", err)
			}

			// Unknown user must be rejected.
			ghost := NewProfile("ghost")
			if err := store.UpdateCAS(ctx, ghost, 0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("CAS on missing profile: expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreDeleteIdempotent(t *testing.T) {
	for name, newStore := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()

			if err := store.Create(ctx, NewProfile("user-1")); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := store.Delete(ctx, "user-1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if err := store.Delete(ctx, "user-1"); err != nil {
				t.Fatalf("second Delete: %v", err)
			}
			if _, err := store.Get(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}
