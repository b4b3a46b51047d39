// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	updateKeyPrefix  = "update:"
	pendingKeyPrefix = "pending:"
)

// Record is the durable trace of a processed embedding update. Its presence
// is what makes replays idempotent: a replayed (user, session) pair returns
// the recorded outcome instead of merging again.
type Record struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	ReceivedAt     time.Time `json:"received_at"`
	Delta          float64   `json:"delta"`
	ProfileVersion int64     `json:"profile_version"`
	NextBatchReady bool      `json:"next_batch_ready"`

	// Pending marks a reservation whose merge has not completed yet. A
	// pending record still blocks duplicate submissions from merging.
	Pending bool `json:"pending,omitempty"`
}

// RecordStore persists update records and per-user pending-read counters in
// BadgerDB. Records carry a TTL so the retention window enforces itself.
type RecordStore struct {
	db        *badger.DB
	retention time.Duration
}

// NewRecordStore wraps an already-open BadgerDB.
func NewRecordStore(db *badger.DB, retention time.Duration) *RecordStore {
	return &RecordStore{db: db, retention: retention}
}

func updateKey(userID, sessionID string) []byte {
	return []byte(updateKeyPrefix + userID + ":" + sessionID)
}

func pendingKey(userID string) []byte {
	return []byte(pendingKeyPrefix + userID)
}

// Lookup returns the record for a (user, session) pair, or nil if unseen.
func (s *RecordStore) Lookup(userID, sessionID string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(updateKey(userID, sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup update record: %w", err)
	}
	return &rec, nil
}

// Reserve atomically claims a (user, session) pair. When the pair is unseen
// it writes rec as a pending placeholder and returns nil; when any record,
// pending or complete, already exists it is returned instead and nothing is
// written. The existence check and the placeholder write share one
// transaction, so concurrent submissions of the same pair race for exactly
// one reservation.
func (s *RecordStore) Reserve(rec *Record) (*Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal update record: %w", err)
	}
	key := updateKey(rec.UserID, rec.SessionID)

	for attempt := 0; ; attempt++ {
		var existing *Record
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == nil {
				var prior Record
				if verr := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &prior)
				}); verr != nil {
					return verr
				}
				existing = &prior
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.retention))
		})
		if errors.Is(err, badger.ErrConflict) && attempt < 2 {
			// A racing submission committed first; the re-read returns
			// its record.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reserve update record: %w", err)
		}
		return existing, nil
	}
}

// Release drops a reservation whose merge failed, so a client retry can
// process the session.
func (s *RecordStore) Release(userID, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(updateKey(userID, sessionID))
	})
	if err != nil {
		return fmt.Errorf("release update record: %w", err)
	}
	return nil
}

// Save writes a record with the retention-window TTL.
func (s *RecordStore) Save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal update record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(updateKey(rec.UserID, rec.SessionID), data).
			WithTTL(s.retention)
		return txn.SetEntry(e)
	})
}

// AddPendingReads bumps the count of articles the user has read since their
// last merged update.
func (s *RecordStore) AddPendingReads(userID string, n int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		current, err := s.pendingLocked(txn, userID)
		if err != nil {
			return err
		}
		val := strconv.FormatInt(current+n, 10)
		return txn.Set(pendingKey(userID), []byte(val))
	})
}

// PendingReads returns the articles-since-last-update count.
func (s *RecordStore) PendingReads(userID string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = s.pendingLocked(txn, userID)
		return err
	})
	return n, err
}

// ResetPendingReads zeroes the counter after a merge lands.
func (s *RecordStore) ResetPendingReads(userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(pendingKey(userID))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("reset pending reads: %w", err)
		}
		return nil
	})
}

func (s *RecordStore) pendingLocked(txn *badger.Txn, userID string) (int64, error) {
	item, err := txn.Get(pendingKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get pending reads: %w", err)
	}

	var n int64
	err = item.Value(func(val []byte) error {
		parsed, perr := strconv.ParseInt(string(val), 10, 64)
		if perr != nil {
			return fmt.Errorf("corrupt pending counter: %w", perr)
		}
		n = parsed
		return nil
	})
	return n, err
}
