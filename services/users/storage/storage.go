// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the persistence contract for user records.
//
// Two drivers implement it: redisstore (production) and badgerstore
// (embedded, for single-node development and tests). Both share the
// same key layout:
//
//	user:<id>    JSON-serialized record
//	users:index  set of all currently-valid record ids
//
// The index lets List enumerate records without a full key scan. The
// record write and the index write are separate operations in the
// Redis driver, so an interruption between them can leave the two out
// of sync. List tolerates an index entry whose record has gone missing
// (the entry is skipped); an unindexed record is simply invisible to
// List. Nothing reconciles the drift.
package storage

import (
	"context"
	"errors"

	"github.com/AleutianAI/userplane/services/users/datatypes"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("user not found")

	// ErrClosed indicates the store has been closed and can accept no
	// further operations.
	ErrClosed = errors.New("store is closed")
)

// =============================================================================
// Key Layout
// =============================================================================

const (
	// RecordKeyPrefix prefixes every record key.
	RecordKeyPrefix = "user:"

	// IndexKey is the key holding the set of all record ids.
	IndexKey = "users:index"
)

// RecordKey builds the store key for a record id.
func RecordKey(id string) string {
	return RecordKeyPrefix + id
}

// =============================================================================
// Connection State
// =============================================================================

// ConnectionState is the store connection lifecycle, queryable
// synchronously by the readiness handler.
//
// Transitions:
//
//	StateDisconnected → StateConnecting → StateReady
//	StateReady → StateDegraded → StateConnecting → …  (ping failure)
//	StateConnecting → StateFailed                      (startup retries exhausted)
//
// StateFailed is terminal and only reachable during startup; once a
// store has been ready, reconnection retries forever.
type ConnectionState int32

const (
	// StateDisconnected is the initial state, and the state after Close.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates a connection or reconnection attempt is
	// in progress.
	StateConnecting

	// StateReady indicates the store is reachable and serving.
	StateReady

	// StateDegraded indicates an established connection has been lost;
	// reconnection attempts are running.
	StateDegraded

	// StateFailed indicates startup retries were exhausted. Terminal.
	StateFailed
)

// String returns the state name used in logs and readiness payloads.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Store Contract
// =============================================================================

// UserStore is the persistence contract for user records.
//
// All data methods honor context deadlines. Implementations time every
// underlying operation into the store-operation latency metric with an
// outcome of success, miss, or error.
type UserStore interface {
	// List returns all records reachable through the index. An empty
	// index returns an empty slice without a record round-trip. Index
	// entries whose record is missing or undecodable are skipped.
	List(ctx context.Context) ([]datatypes.User, error)

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*datatypes.User, error)

	// Create writes a new record and adds its id to the index.
	Create(ctx context.Context, user *datatypes.User) error

	// Update overwrites an existing record. The caller is responsible
	// for having verified existence; Update itself is a plain write.
	Update(ctx context.Context, user *datatypes.User) error

	// Delete removes the record and its index entry. Returns
	// ErrNotFound if no record was deleted.
	Delete(ctx context.Context, id string) error

	// FindByEmail scans all records for an exact email match and
	// returns the first hit, or ErrNotFound. Cost grows linearly with
	// record count; this is the write-time uniqueness check, not an
	// index lookup.
	FindByEmail(ctx context.Context, email string) (*datatypes.User, error)

	// State reports the current connection state without blocking.
	State() ConnectionState

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the connection. Subsequent operations return
	// ErrClosed.
	Close() error
}
