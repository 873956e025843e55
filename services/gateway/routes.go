// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/services/gateway/handlers"
)

// SetupRoutes registers all gateway routes on the router.
//
// The proxy only knows the user collection and a single id segment
// below it; deeper paths fall through to the 404 handler without an
// upstream call.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps, metricsHandler http.Handler) {
	router.GET("/health/live", handlers.HealthLive())
	router.GET("/health/ready", handlers.HealthReady(deps))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	api := router.Group("/api")
	{
		api.Any("/users", handlers.ProxyUsers(deps))
		api.Any("/users/:id", handlers.ProxyUsers(deps))
	}

	router.NoRoute(httpware.NotFound())
}
