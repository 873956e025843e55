// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/validation"
	"github.com/AleutianAI/userplane/services/users/datatypes"
	"github.com/AleutianAI/userplane/services/users/storage"
)

// ListUsers handles GET /users. The response is always a JSON array,
// empty when no users exist.
func ListUsers(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := deps.opCtx()
		defer cancel()

		users, err := deps.Store.List(ctx)
		if err != nil {
			internalError(c, deps.Logger, "failed to list users", err)
			return
		}
		deps.Metrics.SetUserCount(len(users))
		c.JSON(http.StatusOK, users)
	}
}

// GetUser handles GET /users/:id.
func GetUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateUserID(id); err != nil {
			// A malformed id cannot name a stored user.
			userNotFound(c, id)
			return
		}

		ctx, cancel := deps.opCtx()
		defer cancel()

		user, err := deps.Store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			userNotFound(c, id)
			return
		}
		if err != nil {
			internalError(c, deps.Logger, "failed to read user", err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// CreateUser handles POST /users.
//
// Email uniqueness is checked with a read before the write; two
// concurrent creates with the same email can both pass the check.
func CreateUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			validationError(c, deps.Logger, err)
			return
		}
		if err := req.Validate(); err != nil {
			validationError(c, deps.Logger, err)
			return
		}

		ctx, cancel := deps.opCtx()
		defer cancel()

		existing, err := deps.Store.FindByEmail(ctx, req.Email)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			internalError(c, deps.Logger, "failed to check email uniqueness", err)
			return
		}
		if existing != nil {
			deps.Logger.Info("duplicate email rejected", "email", req.Email)
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_email"})
			return
		}

		user := datatypes.NewUser(req.Name, req.Email)
		if err := deps.Store.Create(ctx, user); err != nil {
			internalError(c, deps.Logger, "failed to create user", err)
			return
		}

		deps.Metrics.UserCreated()
		deps.Logger.Info("user created", "user_id", user.ID, "email", user.Email)
		c.JSON(http.StatusCreated, user)
	}
}

// UpdateUser handles PUT /users/:id. Only the fields present in the
// request change; the stored email is not re-checked for uniqueness.
func UpdateUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateUserID(id); err != nil {
			userNotFound(c, id)
			return
		}

		var req datatypes.UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			validationError(c, deps.Logger, err)
			return
		}
		if err := req.Validate(); err != nil {
			validationError(c, deps.Logger, err)
			return
		}

		ctx, cancel := deps.opCtx()
		defer cancel()

		user, err := deps.Store.Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			userNotFound(c, id)
			return
		}
		if err != nil {
			internalError(c, deps.Logger, "failed to read user", err)
			return
		}

		req.ApplyTo(user)
		if err := deps.Store.Update(ctx, user); err != nil {
			internalError(c, deps.Logger, "failed to update user", err)
			return
		}

		deps.Logger.Info("user updated", "user_id", user.ID)
		c.JSON(http.StatusOK, user)
	}
}

// DeleteUser handles DELETE /users/:id. A successful delete returns
// 204 with no body.
func DeleteUser(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := validation.ValidateUserID(id); err != nil {
			userNotFound(c, id)
			return
		}

		ctx, cancel := deps.opCtx()
		defer cancel()

		err := deps.Store.Delete(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			userNotFound(c, id)
			return
		}
		if err != nil {
			internalError(c, deps.Logger, "failed to delete user", err)
			return
		}

		deps.Metrics.UserDeleted()
		deps.Logger.Info("user deleted", "user_id", id)
		c.Status(http.StatusNoContent)
	}
}
