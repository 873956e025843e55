// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/logging"
)

// =============================================================================
// Request Recorder
// =============================================================================

// RequestRecorder receives one observation per completed request.
// Each service's observability package satisfies this with its own
// registry-backed metrics.
type RequestRecorder interface {
	// RecordRequest increments the request counter and observes the
	// duration histogram for one completed request.
	RecordRequest(method, route string, status int, duration time.Duration)
}

// =============================================================================
// Observe Middleware
// =============================================================================

// Observe creates a Gin middleware that times every request,
// records it into the request metrics, and emits a completion log
// line.
//
// # Description
//
// The middleware runs the rest of the chain, then records the elapsed
// time against the matched route pattern (falling back to the raw
// request path when no route matched, so 404 traffic is still
// visible). The completion log line carries the final status,
// duration in milliseconds, user agent, remote address, and the
// correlation id resolved by RequestID.
//
// # Inputs
//
//   - recorder: Destination for per-request metrics. Must not be nil.
//   - logger: Destination for completion log lines. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Examples
//
//	router.Use(httpware.RequestID())
//	router.Use(httpware.Observe(metrics, logger))
//
// # Assumptions
//
//   - RequestID runs earlier in the chain (otherwise request_id logs
//     empty)
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Observe(recorder RequestRecorder, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		// Matched pattern keeps label cardinality bounded; unmatched
		// requests fall back to the raw path.
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		recorder.RecordRequest(c.Request.Method, route, status, duration)

		logger.Info("request completed",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", float64(duration.Microseconds())/1000.0,
			"user_agent", c.Request.UserAgent(),
			"remote_addr", c.ClientIP(),
			"request_id", GetRequestID(c),
		)
	}
}
