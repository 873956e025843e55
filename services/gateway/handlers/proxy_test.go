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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/userplane/pkg/httpware"
	"github.com/AleutianAI/userplane/pkg/logging"
	"github.com/AleutianAI/userplane/services/gateway/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger := logging.New(logging.Config{Quiet: true})
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

// mockClient is a scripted HTTPClient that records every request.
type mockClient struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string

	doFn func(req *http.Request) (*http.Response, error)
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()

	if m.doFn != nil {
		return m.doFn(req)
	}
	return jsonResponse(http.StatusOK, `{}`), nil
}

func (m *mockClient) lastRequest(t *testing.T) *http.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

func (m *mockClient) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

type gatewayEnv struct {
	client  *mockClient
	metrics *observability.Metrics
	router  *gin.Engine
}

// newGatewayEnv wires the gateway handlers the same way the service
// router does.
func newGatewayEnv(t *testing.T, client *mockClient) *gatewayEnv {
	t.Helper()

	upstreamURL, err := url.Parse("http://user-service:8081")
	require.NoError(t, err)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	deps := &Deps{
		Client:      client,
		UpstreamURL: upstreamURL,
		Logger:      quietLogger(t),
		Metrics:     metrics,
		Timeout:     500 * time.Millisecond,
	}

	router := gin.New()
	router.Use(httpware.RequestID())
	api := router.Group("/api")
	{
		api.Any("/users", ProxyUsers(deps))
		api.Any("/users/:id", ProxyUsers(deps))
	}
	router.GET("/health/live", HealthLive())
	router.GET("/health/ready", HealthReady(deps))
	router.NoRoute(httpware.NotFound())

	return &gatewayEnv{client: client, metrics: metrics, router: router}
}

func (e *gatewayEnv) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// =============================================================================
// Forwarding Tests
// =============================================================================

func TestProxyUsers_StripsAPIPrefix(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	env.do(http.MethodGet, "/api/users", "", nil)

	req := client.lastRequest(t)
	assert.Equal(t, "http://user-service:8081/users", req.URL.String())
	assert.Equal(t, http.MethodGet, req.Method)
}

func TestProxyUsers_ForwardsPathAndQuery(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	env.do(http.MethodGet, "/api/users/abc-123?verbose=1&page=2", "", nil)

	req := client.lastRequest(t)
	assert.Equal(t, "http://user-service:8081/users/abc-123?verbose=1&page=2", req.URL.String())
}

func TestProxyUsers_ForwardsBody(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	payload := `{"name":"Ada","email":"ada@example.com"}`
	env.do(http.MethodPost, "/api/users", payload, nil)

	require.Equal(t, 1, client.requestCount())
	assert.Equal(t, payload, client.bodies[0])
}

func TestProxyUsers_ForwardsHeaders(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(httpware.HeaderXRequestID, "fixed-correlation-id")
	header.Set("Authorization", "Bearer secret")
	env.do(http.MethodPost, "/api/users", `{}`, header)

	req := client.lastRequest(t)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "fixed-correlation-id", req.Header.Get(httpware.HeaderXRequestID))
	assert.NotEmpty(t, req.Header.Get("X-Forwarded-For"))
	// Only the whitelisted headers cross the boundary.
	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestProxyUsers_GeneratesRequestID(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodGet, "/api/users", "", nil)

	forwarded := client.lastRequest(t).Header.Get(httpware.HeaderXRequestID)
	assert.NotEmpty(t, forwarded)
	assert.Equal(t, w.Header().Get(httpware.HeaderXRequestID), forwarded)
}

// =============================================================================
// Response Handling Tests
// =============================================================================

func TestProxyUsers_PassesThroughSuccess(t *testing.T) {
	client := &mockClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusCreated, `{"id":"u-1","name":"Ada"}`), nil
		},
	}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodPost, "/api/users", `{"name":"Ada","email":"a@x.io"}`, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"u-1","name":"Ada"}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestProxyUsers_PassesThroughNoContent(t *testing.T) {
	client := &mockClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusNoContent,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		},
	}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodDelete, "/api/users/u-1", "", nil)

	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestProxyUsers_ReemitsUpstreamErrorField(t *testing.T) {
	client := &mockClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusConflict, `{"error":"duplicate_email"}`), nil
		},
	}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodPost, "/api/users", `{"name":"Ada","email":"a@x.io"}`, nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"duplicate_email"}`, w.Body.String())
}

func TestProxyUsers_UpstreamErrorWithoutField(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
	}{
		{"plain text body", &http.Response{
			StatusCode: http.StatusInternalServerError,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("boom")),
		}},
		{"json without error field", jsonResponse(http.StatusBadRequest, `{"message":"nope"}`)},
		{"empty body", &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{
				doFn: func(req *http.Request) (*http.Response, error) { return tt.resp, nil },
			}
			env := newGatewayEnv(t, client)

			w := env.do(http.MethodGet, "/api/users", "", nil)

			assert.Equal(t, tt.resp.StatusCode, w.Code)
			assert.Equal(t, "upstream_error", decodeBody(t, w)["error"])
		})
	}
}

func TestProxyUsers_TransportError(t *testing.T) {
	client := &mockClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodGet, "/api/users", "", nil)

	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "upstream_error", decodeBody(t, w)["error"])
}

func TestProxyUsers_RecordsUpstreamLatency(t *testing.T) {
	calls := 0
	client := &mockClient{
		doFn: func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return jsonResponse(http.StatusOK, `[]`), nil
			}
			return nil, errors.New("dial tcp: connection refused")
		},
	}
	env := newGatewayEnv(t, client)

	env.do(http.MethodGet, "/api/users", "", nil)
	env.do(http.MethodGet, "/api/users", "", nil)

	// One series for {GET,200}, one for {GET,error}.
	assert.Equal(t, 2, testutil.CollectAndCount(env.metrics.UpstreamLatencySeconds))
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestProxyUsers_DeepPathsAreNotProxied(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodGet, "/api/users/u-1/posts", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["error"])
	assert.Equal(t, 0, client.requestCount())
}

func TestProxyUsers_UnknownRoutes(t *testing.T) {
	client := &mockClient{}
	env := newGatewayEnv(t, client)

	w := env.do(http.MethodGet, "/api/orders", "", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "/api/orders", body["path"])
	assert.Equal(t, 0, client.requestCount())
}

func TestProxyUsers_AllMethodsRouted(t *testing.T) {
	methods := []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
	}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			client := &mockClient{}
			env := newGatewayEnv(t, client)

			body := ""
			if method == http.MethodPost || method == http.MethodPut {
				body = `{}`
			}
			env.do(method, "/api/users/u-1", body, nil)

			assert.Equal(t, method, client.lastRequest(t).Method)
		})
	}
}
