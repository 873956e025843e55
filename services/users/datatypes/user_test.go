// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// User Construction Tests
// =============================================================================

func TestNewUser(t *testing.T) {
	u := NewUser("Ada", "ada@example.com")

	if _, err := uuid.Parse(u.ID); err != nil {
		t.Errorf("ID = %q, want a UUID: %v", u.ID, err)
	}
	if u.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", u.Name)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want ada@example.com", u.Email)
	}
	if !u.CreatedAt.Equal(u.UpdatedAt) {
		t.Errorf("CreatedAt %v != UpdatedAt %v at creation", u.CreatedAt, u.UpdatedAt)
	}
	if u.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", u.CreatedAt.Location())
	}
}

func TestNewUser_UniqueIDs(t *testing.T) {
	a := NewUser("A", "a@example.com")
	b := NewUser("B", "b@example.com")

	if a.ID == b.ID {
		t.Errorf("two records received the same id %q", a.ID)
	}
}

func TestUser_JSONShape(t *testing.T) {
	u := NewUser("Ada", "ada@example.com")

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	for _, key := range []string{"id", "name", "email", "created_at", "updated_at"} {
		if _, ok := m[key]; !ok {
			t.Errorf("serialized record missing %q: %s", key, data)
		}
	}
}

// =============================================================================
// CreateUserRequest Validation Tests
// =============================================================================

func TestCreateUserRequest_Validate_Success(t *testing.T) {
	req := &CreateUserRequest{Name: "Ada", Email: "ada@example.com"}

	if err := req.Validate(); err != nil {
		t.Errorf("expected valid request, got error: %v", err)
	}
}

func TestCreateUserRequest_Validate_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  CreateUserRequest
	}{
		{"missing name", CreateUserRequest{Email: "ada@example.com"}},
		{"missing email", CreateUserRequest{Name: "Ada"}},
		{"missing both", CreateUserRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); err == nil {
				t.Errorf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

// =============================================================================
// UpdateUserRequest Validation Tests
// =============================================================================

func TestUpdateUserRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     UpdateUserRequest
		wantErr bool
	}{
		{"name only", UpdateUserRequest{Name: "Grace"}, false},
		{"email only", UpdateUserRequest{Email: "grace@example.com"}, false},
		{"both fields", UpdateUserRequest{Name: "Grace", Email: "grace@example.com"}, false},
		{"neither field", UpdateUserRequest{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpdateUserRequest_ApplyTo(t *testing.T) {
	t.Run("name only leaves email", func(t *testing.T) {
		u := NewUser("Ada", "ada@example.com")
		createdAt := u.CreatedAt
		before := u.UpdatedAt

		time.Sleep(time.Millisecond)
		req := UpdateUserRequest{Name: "Grace"}
		req.ApplyTo(u)

		if u.Name != "Grace" {
			t.Errorf("Name = %q, want Grace", u.Name)
		}
		if u.Email != "ada@example.com" {
			t.Errorf("Email = %q, should be untouched", u.Email)
		}
		if !u.CreatedAt.Equal(createdAt) {
			t.Error("CreatedAt changed on update")
		}
		if !u.UpdatedAt.After(before) {
			t.Errorf("UpdatedAt %v not refreshed (was %v)", u.UpdatedAt, before)
		}
	})

	t.Run("email only leaves name", func(t *testing.T) {
		u := NewUser("Ada", "ada@example.com")

		req := UpdateUserRequest{Email: "ada@newhost.com"}
		req.ApplyTo(u)

		if u.Name != "Ada" {
			t.Errorf("Name = %q, should be untouched", u.Name)
		}
		if u.Email != "ada@newhost.com" {
			t.Errorf("Email = %q, want ada@newhost.com", u.Email)
		}
	})

	t.Run("id never changes", func(t *testing.T) {
		u := NewUser("Ada", "ada@example.com")
		id := u.ID

		req := UpdateUserRequest{Name: "Grace", Email: "grace@example.com"}
		req.ApplyTo(u)

		if u.ID != id {
			t.Errorf("ID changed from %q to %q", id, u.ID)
		}
	})
}
