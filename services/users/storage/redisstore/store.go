// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redisstore implements the user store on Redis.
//
// Records live at user:<id> as JSON strings; the id set lives at
// users:index. Record and index writes are separate commands, so the
// drift window described in the storage package applies here.
//
// Connection lifecycle:
//
//	Open → connecting → ready          (retries: attempt × RetryUnit, capped at RetryCap,
//	                                    at most MaxConnectRetries, then failed + error)
//	ready → degraded → connecting → …  (a background monitor pings every PingInterval;
//	                                    once ready, reconnection retries forever)
//
// The state is queryable synchronously via State(); the readiness
// handler rejects traffic without touching Redis when the state is
// anything but ready.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/users/datatypes"
	"github.com/AleutianAI/userplane/services/users/observability"
	"github.com/AleutianAI/userplane/services/users/storage"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds connection settings for the Redis driver.
type Config struct {
	// URL is the Redis connection URL (redis://host:port/db).
	URL string

	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration

	// OpTimeout bounds driver-internal operations (startup and monitor
	// pings). Request-path operations are bounded by their caller's
	// context instead.
	OpTimeout time.Duration

	// RetryUnit is the backoff unit: the delay before retry n is
	// n × RetryUnit, capped at RetryCap.
	RetryUnit time.Duration

	// RetryCap caps the backoff delay.
	RetryCap time.Duration

	// MaxConnectRetries bounds startup connection attempts. Exhaustion
	// is fatal to startup; it never applies after the store has been
	// ready once.
	MaxConnectRetries int

	// PingInterval is how often the monitor verifies the connection.
	PingInterval time.Duration
}

// DefaultConfig returns production defaults.
//
// Outputs:
//
//	Config - 250ms retry unit capped at 3s, 10 startup retries,
//	5s ping interval, 2s timeouts.
func DefaultConfig() Config {
	return Config{
		URL:               "redis://localhost:6379",
		DialTimeout:       2 * time.Second,
		OpTimeout:         2 * time.Second,
		RetryUnit:         250 * time.Millisecond,
		RetryCap:          3 * time.Second,
		MaxConnectRetries: 10,
		PingInterval:      5 * time.Second,
	}
}

// =============================================================================
// Command Surface
// =============================================================================

// Commands is the subset of Redis commands the driver issues.
// *redis.Client satisfies it; tests substitute function-field mocks.
type Commands interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Commands = (*redis.Client)(nil)

// Operation names for the store-operation latency metric.
const (
	opGet      = "get"
	opSet      = "set"
	opDel      = "del"
	opSAdd     = "sadd"
	opSRem     = "srem"
	opSMembers = "smembers"
	opMGet     = "mget"
	opPing     = "ping"
)

// =============================================================================
// Store
// =============================================================================

// Store is the Redis-backed UserStore.
type Store struct {
	client  Commands
	cfg     Config
	logger  *logging.Logger
	metrics *observability.Metrics

	state  atomic.Int32
	closed atomic.Bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

var _ storage.UserStore = (*Store)(nil)

// Open connects to Redis and returns a ready store.
//
// Description:
//
//	Parses the configured URL, dials with capped backoff (delay =
//	attempt × RetryUnit, capped at RetryCap) up to MaxConnectRetries,
//	and starts the connection monitor. Exhausting the retries leaves
//	the state at failed and returns an error; the caller should treat
//	that as fatal to startup.
//
// Inputs:
//
//	cfg - Connection settings. Zero durations take DefaultConfig values.
//	logger - Destination for connection lifecycle logs. Must not be nil.
//	metrics - Store-operation metrics. May be nil (operations untimed).
//
// Outputs:
//
//	*Store - Ready store in StateReady. Call Close() when done.
//	error - Non-nil if the URL is invalid or retries were exhausted.
//
// Thread Safety: The returned Store is safe for concurrent use.
func Open(cfg Config, logger *logging.Logger, metrics *observability.Metrics) (*Store, error) {
	applyConfigDefaults(&cfg)

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout

	return open(cfg, redis.NewClient(opts), logger, metrics)
}

// open connects an arbitrary command client. Tests inject mocks here.
func open(cfg Config, client Commands, logger *logging.Logger, metrics *observability.Metrics) (*Store, error) {
	s := &Store{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	s.setState(storage.StateDisconnected)

	if err := s.connect(); err != nil {
		_ = client.Close()
		return nil, err
	}

	go s.monitor()
	return s, nil
}

func applyConfigDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.RetryUnit <= 0 {
		cfg.RetryUnit = def.RetryUnit
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = def.RetryCap
	}
	if cfg.MaxConnectRetries <= 0 {
		cfg.MaxConnectRetries = def.MaxConnectRetries
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
}

// =============================================================================
// Connection Lifecycle
// =============================================================================

// connect drives the startup portion of the state machine.
func (s *Store) connect() error {
	for attempt := 1; attempt <= s.cfg.MaxConnectRetries; attempt++ {
		s.setState(storage.StateConnecting)

		err := s.internalPing()
		if err == nil {
			s.setState(storage.StateReady)
			s.logger.Info("store connected", "attempt", attempt)
			return nil
		}

		s.logger.Warn("store connect attempt failed",
			"attempt", attempt,
			"max_attempts", s.cfg.MaxConnectRetries,
			"error", err.Error(),
		)

		if attempt < s.cfg.MaxConnectRetries {
			select {
			case <-s.stopCh:
				s.setState(storage.StateDisconnected)
				return storage.ErrClosed
			case <-time.After(backoffDelay(attempt, s.cfg.RetryUnit, s.cfg.RetryCap)):
			}
		}
	}

	s.setState(storage.StateFailed)
	return fmt.Errorf("store unreachable after %d attempts", s.cfg.MaxConnectRetries)
}

// monitor verifies the connection every PingInterval. A failed ping
// flips the state to degraded and hands off to reconnect.
func (s *Store) monitor() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.internalPing(); err != nil {
				s.setState(storage.StateDegraded)
				s.logger.Warn("store connection lost", "error", err.Error())
				s.reconnect()
			}
		}
	}
}

// reconnect retries forever with the same capped backoff as startup.
// Only Close stops it.
func (s *Store) reconnect() {
	for attempt := 1; ; attempt++ {
		select {
		case <-s.stopCh:
			return
		case <-time.After(backoffDelay(attempt, s.cfg.RetryUnit, s.cfg.RetryCap)):
		}

		s.setState(storage.StateConnecting)
		if err := s.internalPing(); err == nil {
			s.setState(storage.StateReady)
			s.logger.Info("store connection restored", "attempts", attempt)
			return
		}
		s.setState(storage.StateDegraded)
	}
}

// internalPing bounds driver-initiated pings with OpTimeout.
func (s *Store) internalPing() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()

	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.recordOp(opPing, observability.OutcomeError, start)
		return err
	}
	s.recordOp(opPing, observability.OutcomeSuccess, start)
	return nil
}

// backoffDelay is attempt × unit, capped at limit.
func backoffDelay(attempt int, unit, limit time.Duration) time.Duration {
	d := time.Duration(attempt) * unit
	if d > limit {
		return limit
	}
	return d
}

// =============================================================================
// UserStore Implementation
// =============================================================================

// List returns all indexed records. Index entries whose record is
// missing or undecodable are dropped.
func (s *Store) List(ctx context.Context) ([]datatypes.User, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}

	start := time.Now()
	ids, err := s.client.SMembers(ctx, storage.IndexKey).Result()
	if err != nil {
		s.recordOp(opSMembers, observability.OutcomeError, start)
		return nil, fmt.Errorf("read index: %w", err)
	}
	s.recordOp(opSMembers, observability.OutcomeSuccess, start)

	// Empty index: answer without a record round-trip.
	if len(ids) == 0 {
		return []datatypes.User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = storage.RecordKey(id)
	}

	start = time.Now()
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.recordOp(opMGet, observability.OutcomeError, start)
		return nil, fmt.Errorf("read records: %w", err)
	}
	s.recordOp(opMGet, observability.OutcomeSuccess, start)

	users := make([]datatypes.User, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index entry with no record
		}
		var u datatypes.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			continue // undecodable record
		}
		users = append(users, u)
	}
	return users, nil
}

// Get returns the record for id, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.User, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}

	start := time.Now()
	val, err := s.client.Get(ctx, storage.RecordKey(id)).Result()
	switch {
	case err == redis.Nil:
		s.recordOp(opGet, observability.OutcomeMiss, start)
		return nil, storage.ErrNotFound
	case err != nil:
		s.recordOp(opGet, observability.OutcomeError, start)
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}
	s.recordOp(opGet, observability.OutcomeSuccess, start)

	var u datatypes.User
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return &u, nil
}

// Create writes the record, then adds its id to the index.
func (s *Store) Create(ctx context.Context, user *datatypes.User) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}

	start := time.Now()
	if err := s.client.Set(ctx, storage.RecordKey(user.ID), data, 0).Err(); err != nil {
		s.recordOp(opSet, observability.OutcomeError, start)
		return fmt.Errorf("write user %s: %w", user.ID, err)
	}
	s.recordOp(opSet, observability.OutcomeSuccess, start)

	start = time.Now()
	if err := s.client.SAdd(ctx, storage.IndexKey, user.ID).Err(); err != nil {
		s.recordOp(opSAdd, observability.OutcomeError, start)
		// The record is written but unindexed; see the drift note in
		// the storage package.
		return fmt.Errorf("index user %s: %w", user.ID, err)
	}
	s.recordOp(opSAdd, observability.OutcomeSuccess, start)
	return nil
}

// Update overwrites the record in place. Existence is the caller's
// concern.
func (s *Store) Update(ctx context.Context, user *datatypes.User) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}

	start := time.Now()
	if err := s.client.Set(ctx, storage.RecordKey(user.ID), data, 0).Err(); err != nil {
		s.recordOp(opSet, observability.OutcomeError, start)
		return fmt.Errorf("write user %s: %w", user.ID, err)
	}
	s.recordOp(opSet, observability.OutcomeSuccess, start)
	return nil
}

// Delete removes the record, then its index entry. A delete that
// removed nothing returns storage.ErrNotFound and leaves the index
// untouched.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	start := time.Now()
	n, err := s.client.Del(ctx, storage.RecordKey(id)).Result()
	if err != nil {
		s.recordOp(opDel, observability.OutcomeError, start)
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n == 0 {
		s.recordOp(opDel, observability.OutcomeMiss, start)
		return storage.ErrNotFound
	}
	s.recordOp(opDel, observability.OutcomeSuccess, start)

	start = time.Now()
	if err := s.client.SRem(ctx, storage.IndexKey, id).Err(); err != nil {
		s.recordOp(opSRem, observability.OutcomeError, start)
		return fmt.Errorf("unindex user %s: %w", id, err)
	}
	s.recordOp(opSRem, observability.OutcomeSuccess, start)
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

// Ping verifies the connection under the caller's context. The
// readiness handler supplies its own timeout here.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.recordOp(opPing, observability.OutcomeError, start)
		return fmt.Errorf("store ping: %w", err)
	}
	s.recordOp(opPing, observability.OutcomeSuccess, start)
	return nil
}

// Close stops the monitor and releases the connection. Safe to call
// multiple times; subsequent calls are no-ops.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCh)
		<-s.doneCh
		err = s.client.Close()
		s.setState(storage.StateDisconnected)
	})
	return err
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Store) setState(st storage.ConnectionState) {
	s.state.Store(int32(st))
}

func (s *Store) recordOp(operation string, outcome observability.Outcome, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStoreOp(operation, outcome, time.Since(start))
	}
}
