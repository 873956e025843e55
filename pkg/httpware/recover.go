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
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/userplane/pkg/logging"
)

// Recover creates a Gin middleware that converts panics into a
// structured 500 response.
//
// The log line carries the panic value, the stack trace, and the
// correlation id. The response body carries only the correlation id;
// internal detail never reaches the caller.
//
//	{"error": "internal_error", "request_id": "<id>"}
//
// Mount this after RequestID so the correlation id is available.
func Recover(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := GetRequestID(c)

				logger.Error("panic recovered",
					"error", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"request_id", requestID,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal_error",
					"request_id": requestID,
				})
			}
		}()

		c.Next()
	}
}
