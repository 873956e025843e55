// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpware provides HTTP middleware shared by the gateway and
// user services.
//
// Every service mounts the same chain, in order:
//
//	Request
//	   │
//	   ▼
//	RequestID ──► assign/echo X-Request-ID, store in context
//	   │
//	   ▼
//	Observe ────► time the request, record metrics, log completion
//	   │
//	   ▼
//	Recover ────► convert panics to a structured 500
//	   │
//	   ▼
//	Handler
//
// The middlewares take their collaborators (metrics recorder, logger)
// as explicit arguments; nothing in this package touches global state.
package httpware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Correlation Header
// =============================================================================

// HeaderXRequestID is the correlation header attached to every
// response and forwarded on every proxied call.
const HeaderXRequestID = "X-Request-ID"

// requestIDKey is the context key for the correlation id.
// Using a package-prefixed key prevents collisions with other context values.
const requestIDKey = "userplane_request_id"

// =============================================================================
// Context Helpers
// =============================================================================

// SetRequestID stores the correlation id in the Gin context.
//
// Called by RequestID after resolving the inbound header. Handlers
// retrieve it via GetRequestID.
func SetRequestID(c *gin.Context, id string) {
	c.Set(requestIDKey, id)
}

// GetRequestID retrieves the correlation id from the Gin context.
//
// Returns empty string if RequestID has not run for this request or
// the stored value has the wrong type.
func GetRequestID(c *gin.Context) string {
	if v, exists := c.Get(requestIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// =============================================================================
// RequestID Middleware
// =============================================================================

// RequestID creates a Gin middleware that resolves the per-request
// correlation id.
//
// # Description
//
// If the inbound request carries an X-Request-ID header, that value is
// reused; otherwise a new UUIDv4 is generated. The resolved id is
// stored in the Gin context for handlers and loggers, and set on the
// response header so callers can correlate their requests with server
// logs.
//
// # Inputs
//
// None. The middleware is self-contained.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	router := gin.New()
//	router.Use(httpware.RequestID())
//
// # Limitations
//
//   - Inbound ids are trusted verbatim; no length or charset policing.
//     Malicious callers can only pollute their own correlation trail.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		SetRequestID(c, id)
		c.Writer.Header().Set(HeaderXRequestID, id)

		c.Next()
	}
}
