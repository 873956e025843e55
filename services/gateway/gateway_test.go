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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/pkg/logging"
)

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// scriptedClient answers every upstream call with the given function.
type scriptedClient struct {
	doFn func(req *http.Request) (*http.Response, error)
}

func (s *scriptedClient) Do(req *http.Request) (*http.Response, error) {
	return s.doFn(req)
}

func okUpstream() *scriptedClient {
	return &scriptedClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode:    http.StatusOK,
				Header:        http.Header{"Content-Type": []string{"application/json"}},
				Body:          io.NopCloser(strings.NewReader(`[]`)),
				ContentLength: 2,
			}, nil
		},
	}
}

func newTestGateway(t *testing.T, client *scriptedClient) Service {
	t.Helper()
	svc, err := New(Config{GinMode: gin.TestMode}, &Options{
		Logger:   quietLogger(t),
		Registry: prometheus.NewRegistry(),
		Client:   client,
	})
	require.NoError(t, err)
	return svc
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_WithInjectedClient(t *testing.T) {
	svc := newTestGateway(t, okUpstream())
	assert.NotNil(t, svc.Router())
}

func TestNew_InvalidUpstreamURL(t *testing.T) {
	urls := []string{"not a url", "localhost:8081", "://missing-scheme"}
	for _, raw := range urls {
		t.Run(raw, func(t *testing.T) {
			_, err := New(Config{UserServiceURL: raw, GinMode: gin.TestMode}, &Options{
				Logger: quietLogger(t),
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid user service URL")
		})
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	newTestGateway(t, okUpstream())
	newTestGateway(t, okUpstream())
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "http://localhost:8081", cfg.UserServiceURL)
	assert.Equal(t, 2*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, "grpc", cfg.OTelExporter)
	assert.Equal(t, gin.ReleaseMode, cfg.GinMode)
}

// =============================================================================
// End-to-End Router Tests
// =============================================================================

func TestGateway_EndToEnd(t *testing.T) {
	svc := newTestGateway(t, okUpstream())
	router := svc.Router()

	live := serve(router, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, live.Code)

	ready := serve(router, http.MethodGet, "/health/ready", "")
	require.Equal(t, http.StatusOK, ready.Code)

	proxied := serve(router, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, proxied.Code)
	assert.Equal(t, "[]", proxied.Body.String())
	assert.NotEmpty(t, proxied.Header().Get(httpware.HeaderXRequestID))

	metrics := serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "userplane_gateway_http_requests_total")
	assert.Contains(t, metrics.Body.String(), "userplane_gateway_upstream_latency_seconds")
}

func TestGateway_TransportErrorBecomes502(t *testing.T) {
	client := &scriptedClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	svc := newTestGateway(t, client)

	w := serve(svc.Router(), http.MethodGet, "/api/users", "")

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"upstream_error"}`, w.Body.String())
}

func TestGateway_UnknownRoute(t *testing.T) {
	svc := newTestGateway(t, okUpstream())

	w := serve(svc.Router(), http.MethodGet, "/api/orders", "")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not_found"`)
}
