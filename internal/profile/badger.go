// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/feedloom/feedloom/internal/logging"
)

const profileKeyPrefix = "profile:"

// BadgerStore implements Store on BadgerDB. The version check and the write
// run inside a single Badger transaction, and Badger's own serializable
// transaction conflict is surfaced as ErrVersionMismatch so callers retry.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an already-open BadgerDB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadger opens a BadgerDB suitable for the profile store.
func OpenBadger(path string, inMemory bool) (*badger.DB, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = nil // Badger's logger is too chatty; we log around it

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for profiles: %w", err)
	}
	return db, nil
}

func profileKey(userID string) []byte {
	return []byte(profileKeyPrefix + userID)
}

// Get retrieves a profile by user id.
func (s *BadgerStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var p Profile

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(profileKey(userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a profile only if none exists for the user.
func (s *BadgerStore) Create(ctx context.Context, p *Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := profileKey(p.UserID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrVersionMismatch
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing profile: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionMismatch
	}
	return err
}

// UpdateCAS writes p if the stored version equals expected, bumping the
// version by one.
func (s *BadgerStore) UpdateCAS(ctx context.Context, p *Profile, expected int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := profileKey(p.UserID)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get profile: %w", err)
		}

		var stored Profile
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return fmt.Errorf("decode profile: %w", err)
		}
		if stored.Version != expected {
			return ErrVersionMismatch
		}

		next := p.Clone()
		next.Version = expected + 1
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return ErrVersionMismatch
	}
	return err
}

// Delete removes a profile. Missing profiles are not an error.
func (s *BadgerStore) Delete(ctx context.Context, userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(profileKey(userID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete profile: %w", err)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// RunGC runs one round of Badger value-log garbage collection. Badger returns
// ErrNoRewrite when there is nothing to reclaim; that is not an error.
func (s *BadgerStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	if err != nil && !errors.Is(err, badger.ErrRejected) {
		logging.Warn().Err(err).Msg("Badger value-log GC failed")
		return err
	}
	return nil
}
