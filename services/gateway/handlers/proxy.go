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
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/services/gateway/observability"
)

// maxErrorBodyBytes caps how much of an upstream error body is read
// when extracting the error code.
const maxErrorBodyBytes = 1 << 20

// ProxyUsers forwards /api/users requests to the user service.
//
// # Description
//
// The inbound path loses its /api prefix and keeps its query string.
// The upstream request carries the inbound body plus exactly three
// headers: Content-Type, X-Request-ID (the correlation id assigned
// by the middleware), and X-Forwarded-For (the originating client
// address). Each call is bounded by the configured timeout.
//
// Upstream responses below 400 pass through verbatim: status, body,
// and content type. Responses of 400 and above keep their status but
// have the body re-emitted as {"error": "<code>"}, where the code is
// the upstream body's error field or "upstream_error" when it has
// none. A transport failure (connection refused, timeout) becomes a
// 502 {"error": "upstream_error"}.
//
// Every round trip lands in the upstream latency histogram, labeled
// with the upstream status or "error".
func ProxyUsers(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		upstream := *deps.UpstreamURL
		upstream.Path = strings.TrimPrefix(c.Request.URL.Path, "/api")
		if c.Request.URL.RawPath != "" {
			upstream.RawPath = strings.TrimPrefix(c.Request.URL.RawPath, "/api")
		}
		upstream.RawQuery = c.Request.URL.RawQuery

		ctx, cancel := context.WithTimeout(c.Request.Context(), deps.timeout())
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, c.Request.Method, upstream.String(), c.Request.Body)
		if err != nil {
			internalError(c, deps.Logger, "failed to build upstream request", err)
			return
		}
		if ct := c.GetHeader("Content-Type"); ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		req.Header.Set(httpware.HeaderXRequestID, httpware.GetRequestID(c))
		req.Header.Set("X-Forwarded-For", c.ClientIP())

		start := time.Now()
		resp, err := deps.Client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			deps.Metrics.RecordUpstream(c.Request.Method, observability.UpstreamStatusError, elapsed)
			deps.Logger.Error("upstream request failed",
				"error", err,
				"method", c.Request.Method,
				"url", upstream.String(),
				"request_id", httpware.GetRequestID(c),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error"})
			return
		}
		defer resp.Body.Close()
		deps.Metrics.RecordUpstream(c.Request.Method, observability.UpstreamStatus(resp.StatusCode), elapsed)

		if resp.StatusCode < http.StatusBadRequest {
			c.DataFromReader(resp.StatusCode, resp.ContentLength,
				resp.Header.Get("Content-Type"), resp.Body, nil)
			return
		}

		c.JSON(resp.StatusCode, gin.H{"error": upstreamErrorCode(resp.Body)})
	}
}

// upstreamErrorCode extracts the error field from an upstream failure
// body. Unreadable, non-JSON, and error-less bodies all collapse to
// "upstream_error".
func upstreamErrorCode(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	if err != nil {
		return "upstream_error"
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return "upstream_error"
	}
	return payload.Error
}
