// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the user service HTTP endpoints.
//
// Handlers are constructors that close over a Deps value, so a test
// can wire them against an in-memory store and a quiet logger. Error
// bodies follow one scheme: {"error": "<code>"} plus minimal context
// fields; internal detail stays in the log, keyed by request id.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/users/observability"
	"github.com/AleutianAI/userplane/services/users/storage"
)

// defaultStoreTimeout bounds store calls when Deps.Timeout is unset.
const defaultStoreTimeout = 2 * time.Second

// Deps carries the dependencies shared by all user service handlers.
// All fields must be set.
type Deps struct {
	Store   storage.UserStore
	Logger  *logging.Logger
	Metrics *observability.Metrics

	// Timeout bounds each store call. Default: 2s.
	Timeout time.Duration
}

// opCtx returns a context for one store call. Store calls are bounded
// by the configured timeout, not by the client connection: a client
// that disconnects mid-request does not cancel the write.
func (d *Deps) opCtx() (context.Context, context.CancelFunc) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// internalError logs the full failure with its correlation id and
// sends a 500 whose body carries only the id, never the detail.
func internalError(c *gin.Context, logger *logging.Logger, msg string, err error) {
	requestID := httpware.GetRequestID(c)
	logger.Error(msg, "error", err, "request_id", requestID)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      "internal_error",
		"request_id": requestID,
	})
}

// userNotFound sends the canonical 404 body for an unknown user id.
func userNotFound(c *gin.Context, id string) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": "user_not_found",
		"id":    id,
	})
}

// validationError sends a 400 with the validation detail. Validation
// failures are client mistakes, not service errors.
func validationError(c *gin.Context, logger *logging.Logger, err error) {
	logger.Debug("request validation failed", "error", err)
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"details": err.Error(),
	})
}
