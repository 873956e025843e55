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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/userplane/services/users/storage"
)

// HealthLive handles GET /health/live. Liveness only proves the
// process is serving requests; it never consults the store.
func HealthLive() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HealthReady handles GET /health/ready. Ready means the store state
// machine reports ready AND a bounded ping succeeds right now.
// Concurrent probes collapse onto a single in-flight ping.
func HealthReady(deps *Deps) gin.HandlerFunc {
	var group singleflight.Group
	return func(c *gin.Context) {
		state := deps.Store.State()
		if state != storage.StateReady {
			deps.Logger.Warn("readiness probe failed", "store_state", state.String())
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unavailable",
				"dependencies": gin.H{"store": state.String()},
			})
			return
		}

		_, err, _ := group.Do("store-ping", func() (interface{}, error) {
			ctx, cancel := deps.opCtx()
			defer cancel()
			return nil, deps.Store.Ping(ctx)
		})
		if err != nil {
			deps.Logger.Warn("readiness probe failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unavailable",
				"dependencies": gin.H{"store": "unreachable"},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ready",
			"dependencies": gin.H{"store": "ok"},
		})
	}
}
