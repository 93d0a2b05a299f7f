// Package store persists exchange state in an embedded Pebble database.
//
// Three kinds of data live here, under distinct key prefixes:
//
//	s:latest        — the most recent engine snapshot (JSON)
//	t:<seq>         — archived transactions, keyed by big-endian sequence
//	u:<id>          — user accounts
//	r:t:<token>     — refresh-token records, looked up by token
//	r:u:<uid>:<tok> — per-user token index, for logout-everywhere
//
// The store implements engine.Archiver for the transaction log and the
// auth package's TokenStore for refresh-token persistence.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"predx/internal/auth"
	"predx/internal/engine"
	"predx/pkg/types"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps a Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func keySnapshot() []byte { return []byte("s:latest") }

func keyTxn(seq uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "t:")
	binary.BigEndian.PutUint64(key[2:], seq)
	return key
}

func keyToken(token string) []byte        { return []byte("r:t:" + token) }
func keyUserToken(uid, tok string) []byte { return []byte("r:u:" + uid + ":" + tok) }
func keyUserPrefix(uid string) []byte     { return []byte("r:u:" + uid + ":") }

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

// ————————————————————————————————————————————————————————————————————————
// Engine snapshots
// ————————————————————————————————————————————————————————————————————————

// SaveSnapshot overwrites the persisted engine snapshot.
func (s *Store) SaveSnapshot(snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.db.Set(keySnapshot(), data, pebble.Sync); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads the persisted engine snapshot. Returns ErrNotFound
// when the database has never seen one.
func (s *Store) LoadSnapshot() (engine.Snapshot, error) {
	val, closer, err := s.db.Get(keySnapshot())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return engine.Snapshot{}, ErrNotFound
		}
		return engine.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	defer closer.Close()

	var snap engine.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return engine.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// ————————————————————————————————————————————————————————————————————————
// Transaction archive
// ————————————————————————————————————————————————————————————————————————

// ArchiveTransaction appends one transaction to the durable archive.
// Implements engine.Archiver.
func (s *Store) ArchiveTransaction(txn types.Transaction) error {
	data, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("marshal txn %d: %w", txn.Seq, err)
	}
	if err := s.db.Set(keyTxn(txn.Seq), data, pebble.NoSync); err != nil {
		return fmt.Errorf("archive txn %d: %w", txn.Seq, err)
	}
	return nil
}

// Transactions returns all archived transactions in sequence order.
func (s *Store) Transactions() ([]types.Transaction, error) {
	prefix := []byte("t:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate txns: %w", err)
	}
	defer iter.Close()

	var out []types.Transaction
	for iter.First(); iter.Valid(); iter.Next() {
		var txn types.Transaction
		if err := json.Unmarshal(iter.Value(), &txn); err != nil {
			return nil, fmt.Errorf("unmarshal archived txn: %w", err)
		}
		out = append(out, txn)
	}
	return out, iter.Error()
}

// ————————————————————————————————————————————————————————————————————————
// User accounts
// ————————————————————————————————————————————————————————————————————————

func keyUser(id string) []byte { return []byte("u:" + id) }

// SaveUser persists one user account.
func (s *Store) SaveUser(u auth.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", u.ID, err)
	}
	if err := s.db.Set(keyUser(u.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, err)
	}
	return nil
}

// Users returns all persisted user accounts.
func (s *Store) Users() ([]auth.User, error) {
	prefix := []byte("u:")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	defer iter.Close()

	var out []auth.User
	for iter.First(); iter.Valid(); iter.Next() {
		var u auth.User
		if err := json.Unmarshal(iter.Value(), &u); err != nil {
			return nil, fmt.Errorf("unmarshal user: %w", err)
		}
		out = append(out, u)
	}
	return out, iter.Error()
}

// ————————————————————————————————————————————————————————————————————————
// Refresh tokens
// ————————————————————————————————————————————————————————————————————————

// tokenRecord is the stored form of a refresh token.
type tokenRecord struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SaveRefreshToken stores a refresh token for a user.
func (s *Store) SaveRefreshToken(token, userID string, expiresAt time.Time) error {
	data, err := json.Marshal(tokenRecord{UserID: userID, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("marshal token record: %w", err)
	}
	if err := s.db.Set(keyToken(token), data, pebble.Sync); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	if err := s.db.Set(keyUserToken(userID, token), nil, pebble.Sync); err != nil {
		return fmt.Errorf("index refresh token: %w", err)
	}
	return nil
}

// LookupRefreshToken resolves a refresh token to its user. Expired or
// unknown tokens return ErrNotFound; expired tokens are deleted on sight.
func (s *Store) LookupRefreshToken(token string) (string, error) {
	val, closer, err := s.db.Get(keyToken(token))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	var rec tokenRecord
	unmarshalErr := json.Unmarshal(val, &rec)
	closer.Close()
	if unmarshalErr != nil {
		return "", fmt.Errorf("unmarshal token record: %w", unmarshalErr)
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = s.DeleteRefreshToken(token, rec.UserID)
		return "", ErrNotFound
	}
	return rec.UserID, nil
}

// DeleteRefreshToken removes one refresh token and its user index entry.
func (s *Store) DeleteRefreshToken(token, userID string) error {
	if err := s.db.Delete(keyToken(token), pebble.Sync); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if err := s.db.Delete(keyUserToken(userID, token), pebble.Sync); err != nil {
		return fmt.Errorf("delete refresh token index: %w", err)
	}
	return nil
}

// RevokeUserTokens removes every refresh token of a user (logout everywhere).
func (s *Store) RevokeUserTokens(userID string) error {
	prefix := keyUserPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterate user tokens: %w", err)
	}

	var tokens []string
	for iter.First(); iter.Valid(); iter.Next() {
		tokens = append(tokens, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("iterate user tokens: %w", err)
	}

	for _, token := range tokens {
		if err := s.DeleteRefreshToken(token, userID); err != nil {
			return err
		}
	}
	return nil
}
