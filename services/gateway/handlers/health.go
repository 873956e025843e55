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
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/userplane/services/gateway/observability"
)

// HealthLive handles GET /health/live. Liveness only proves the
// gateway process is serving requests.
func HealthLive() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HealthReady handles GET /health/ready. The gateway is ready when
// the user service answers its liveness endpoint within the timeout.
// Concurrent probes collapse onto a single in-flight upstream call,
// and every call lands in the upstream latency histogram.
func HealthReady(deps *Deps) gin.HandlerFunc {
	var group singleflight.Group
	probe := *deps.UpstreamURL
	probe.Path = "/health/live"
	probeURL := probe.String()

	return func(c *gin.Context) {
		v, err, _ := group.Do("upstream-live", func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), deps.timeout())
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
			if err != nil {
				return 0, err
			}

			start := time.Now()
			resp, err := deps.Client.Do(req)
			elapsed := time.Since(start)
			if err != nil {
				deps.Metrics.RecordUpstream(http.MethodGet, observability.UpstreamStatusError, elapsed)
				return 0, err
			}
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			deps.Metrics.RecordUpstream(http.MethodGet, observability.UpstreamStatus(resp.StatusCode), elapsed)
			return resp.StatusCode, nil
		})
		if err != nil {
			deps.Logger.Warn("readiness probe failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unavailable",
				"dependencies": gin.H{"user_service": "unreachable"},
			})
			return
		}

		if code := v.(int); code != http.StatusOK {
			deps.Logger.Warn("readiness probe failed", "upstream_status", code)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":       "unavailable",
				"dependencies": gin.H{"user_service": fmt.Sprintf("status %d", code)},
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "ready",
			"dependencies": gin.H{"user_service": "ok"},
		})
	}
}
