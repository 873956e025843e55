// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway HTTP endpoints: the user
// service proxy and the health probes.
package handlers

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/gateway/observability"
)

// defaultUpstreamTimeout bounds upstream calls when Deps.Timeout is
// unset.
const defaultUpstreamTimeout = 2 * time.Second

// HTTPClient captures the http.Client surface the gateway uses, so
// tests can substitute a scripted transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// Deps carries the dependencies shared by all gateway handlers.
// All fields must be set.
type Deps struct {
	Client      HTTPClient
	UpstreamURL *url.URL
	Logger      *logging.Logger
	Metrics     *observability.Metrics

	// Timeout bounds each upstream call. Default: 2s.
	Timeout time.Duration
}

func (d *Deps) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultUpstreamTimeout
	}
	return d.Timeout
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
