// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the user store on embedded BadgerDB.
//
// This driver exists for single-node development (STORE_DRIVER=badger)
// and for tests that want real store round-trips without a Redis
// server. It keeps the shared key layout: records at user:<id>, the id
// set at users:index (stored as a sorted JSON array).
//
// Unlike the Redis driver, record and index writes share one Badger
// transaction, so this driver cannot introduce new index drift; the
// drift tolerance in List still applies to pre-existing data.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/users/datatypes"
	"github.com/AleutianAI/userplane/services/users/observability"
	"github.com/AleutianAI/userplane/services/users/storage"
)

// Operation names for the store-operation latency metric. Badger has
// no per-command wire protocol, so operations are labeled by store
// method instead.
const (
	opList   = "list"
	opGet    = "get"
	opCreate = "create"
	opUpdate = "update"
	opDelete = "delete"
	opPing   = "ping"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for the Badger driver.
type Config struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for persistent databases, false for testing.
	SyncWrites bool
}

// DefaultConfig returns defaults for persistent local use.
//
// Outputs:
//
//	Config - SyncWrites enabled; caller supplies Path.
func DefaultConfig() Config {
	return Config{
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration optimized for testing.
//
// Outputs:
//
//	Config - InMemory mode, SyncWrites disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts the service logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

// Store is the Badger-backed UserStore.
type Store struct {
	db      *badger.DB
	logger  *logging.Logger
	metrics *observability.Metrics

	state     atomic.Int32
	closeOnce sync.Once
}

var _ storage.UserStore = (*Store)(nil)

// Open creates and opens a Badger-backed store.
//
// Description:
//
//	Opens a BadgerDB at the configured path (created if missing), or
//	in memory. Badger's internal log lines are routed to the service
//	logger at debug/warn/error. An embedded database has no remote
//	endpoint to lose, so the state is ready from here until Close.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory.
//	logger - Driver and Badger-internal logs. Must not be nil.
//	metrics - Store-operation metrics. May be nil (operations untimed).
//
// Outputs:
//
//	*Store - The opened store. Call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: The returned Store is safe for concurrent use.
func Open(cfg Config, logger *logging.Logger, metrics *observability.Metrics) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:      db,
		logger:  logger,
		metrics: metrics,
	}
	s.setState(storage.StateReady)
	logger.Info("store opened", "driver", "badger", "in_memory", cfg.InMemory, "path", cfg.Path)
	return s, nil
}

// =============================================================================
// UserStore Implementation
// =============================================================================

// List returns all indexed records. Index entries whose record is
// missing or undecodable are dropped.
func (s *Store) List(ctx context.Context) ([]datatypes.User, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var users []datatypes.User
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := readIndex(txn)
		if err != nil {
			return err
		}
		users = make([]datatypes.User, 0, len(ids))
		for _, id := range ids {
			item, err := txn.Get([]byte(storage.RecordKey(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue // index entry with no record
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var u datatypes.User
			if err := json.Unmarshal(val, &u); err != nil {
				continue // undecodable record
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		s.recordOp(opList, observability.OutcomeError, start)
		return nil, fmt.Errorf("list users: %w", err)
	}
	s.recordOp(opList, observability.OutcomeSuccess, start)
	return users, nil
}

// Get returns the record for id, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.User, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var u datatypes.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(storage.RecordKey(id)))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &u)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.recordOp(opGet, observability.OutcomeMiss, start)
		return nil, storage.ErrNotFound
	}
	if err != nil {
		s.recordOp(opGet, observability.OutcomeError, start)
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}
	s.recordOp(opGet, observability.OutcomeSuccess, start)
	return &u, nil
}

// Create writes the record and its index entry in one transaction.
func (s *Store) Create(ctx context.Context, user *datatypes.User) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}

	start := time.Now()
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(storage.RecordKey(user.ID)), data); err != nil {
			return err
		}
		ids, err := readIndex(txn)
		if err != nil {
			return err
		}
		return writeIndex(txn, append(ids, user.ID))
	})
	if err != nil {
		s.recordOp(opCreate, observability.OutcomeError, start)
		return fmt.Errorf("write user %s: %w", user.ID, err)
	}
	s.recordOp(opCreate, observability.OutcomeSuccess, start)
	return nil
}

// Update overwrites the record in place. Existence is the caller's
// concern.
func (s *Store) Update(ctx context.Context, user *datatypes.User) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}

	start := time.Now()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(storage.RecordKey(user.ID)), data)
	})
	if err != nil {
		s.recordOp(opUpdate, observability.OutcomeError, start)
		return fmt.Errorf("write user %s: %w", user.ID, err)
	}
	s.recordOp(opUpdate, observability.OutcomeSuccess, start)
	return nil
}

// Delete removes the record and its index entry in one transaction.
// Returns storage.ErrNotFound if the record does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(storage.RecordKey(id))
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		ids, err := readIndex(txn)
		if err != nil {
			return err
		}
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		return writeIndex(txn, kept)
	})
	if errors.Is(err, storage.ErrNotFound) {
		s.recordOp(opDelete, observability.OutcomeMiss, start)
		return storage.ErrNotFound
	}
	if err != nil {
		s.recordOp(opDelete, observability.OutcomeError, start)
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	s.recordOp(opDelete, observability.OutcomeSuccess, start)
	return nil
}

// FindByEmail scans all records for an exact email match.
func (s *Store) FindByEmail(ctx context.Context, email string) (*datatypes.User, error) {
	users, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Email == email {
			return &users[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

// State reports the connection state without blocking.
func (s *Store) State() storage.ConnectionState {
	return storage.ConnectionState(s.state.Load())
}

// Ping verifies the database is open and usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.guard(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := s.db.View(func(txn *badger.Txn) error { return nil }); err != nil {
		s.recordOp(opPing, observability.OutcomeError, start)
		return fmt.Errorf("store ping: %w", err)
	}
	s.recordOp(opPing, observability.OutcomeSuccess, start)
	return nil
}

// Close closes the database. Safe to call multiple times; subsequent
// calls are no-ops.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(storage.StateDisconnected)
		err = s.db.Close()
	})
	return err
}

// =============================================================================
// Helpers
// =============================================================================

// guard rejects operations on a closed store or a dead context.
func (s *Store) guard(ctx context.Context) error {
	if s.db.IsClosed() {
		return storage.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) setState(st storage.ConnectionState) {
	s.state.Store(int32(st))
}

func (s *Store) recordOp(operation string, outcome observability.Outcome, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStoreOp(operation, outcome, time.Since(start))
	}
}

// readIndex loads the id set, tolerating a missing index key (an empty
// store has none).
func readIndex(txn *badger.Txn) ([]string, error) {
	item, err := txn.Get([]byte(storage.IndexKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(val, &ids); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return ids, nil
}

// writeIndex persists the id set sorted and deduplicated.
func writeIndex(txn *badger.Txn, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	data, err := json.Marshal(unique)
	if err != nil {
		return err
	}
	return txn.Set([]byte(storage.IndexKey), data)
}
