// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the user service.
//
// This file contains the user record and the request types for the
// CRUD endpoints. Validation uses go-playground/validator tags; the
// shared validator instance is initialized in init().
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// userValidate is the validator instance for user datatypes.
var userValidate *validator.Validate

func init() {
	userValidate = validator.New()
}

// =============================================================================
// User Record
// =============================================================================

// User is a user record as persisted in the store and returned by the
// API.
//
// # Fields
//
//   - ID: Server-generated UUIDv4. Immutable after creation.
//   - Name: Display name. Mutable.
//   - Email: Uniqueness key across all records, enforced at write time
//     by the service (the store has no unique index). Mutable.
//   - CreatedAt: Set once at creation, UTC.
//   - UpdatedAt: Refreshed on every successful mutation, UTC. Equals
//     CreatedAt until the first update.
//
// The record is stored as JSON under the key `user:<id>`; the id
// additionally appears in the `users:index` set while the record
// exists.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser constructs a record with a generated id and both timestamps
// set to the same instant.
func NewUser(name, email string) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// Request Types
// =============================================================================

// CreateUserRequest is the body for POST /users. Both fields are
// required; empty strings count as absent.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required"`
}

// Validate validates the CreateUserRequest fields.
func (r *CreateUserRequest) Validate() error {
	return userValidate.Struct(r)
}

// UpdateUserRequest is the body for PUT /users/:id. At least one field
// must be supplied; empty strings count as absent and leave the stored
// value untouched.
type UpdateUserRequest struct {
	Name  string `json:"name" validate:"required_without=Email"`
	Email string `json:"email" validate:"required_without=Name"`
}

// Validate validates the UpdateUserRequest fields.
func (r *UpdateUserRequest) Validate() error {
	return userValidate.Struct(r)
}

// ApplyTo merges the supplied fields onto an existing record and
// refreshes its update timestamp. ID and CreatedAt are never touched.
func (r *UpdateUserRequest) ApplyTo(u *User) {
	if r.Name != "" {
		u.Name = r.Name
	}
	if r.Email != "" {
		u.Email = r.Email
	}
	u.UpdatedAt = time.Now().UTC()
}
