package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/parcelheat/internal/middleware"
)

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.ActorHeader, "ops@example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthHandler_Health(t *testing.T) {
	w := doRequest(newTestHandlers().router(), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, w).Status)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name           string
		pingErr        error
		expectedStatus int
		expectedBody   ReadyResponse
	}{
		{"store connected", nil, http.StatusOK, ReadyResponse{Status: "ready", Store: "connected"}},
		{"store down", errors.New("connection refused"), http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Store: "disconnected"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandlers()
			th.pinger.err = tt.pingErr

			w := doRequest(th.router(), http.MethodGet, "/health/ready", "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedBody, decode[ReadyResponse](t, w))
		})
	}
}

func TestHealthHandler_Info(t *testing.T) {
	w := doRequest(newTestHandlers().router(), http.MethodGet, "/api/v1/info", "")

	assert.Equal(t, http.StatusOK, w.Code)
	info := decode[InfoResponse](t, w)
	assert.Equal(t, APIVersion, info.Version)
	assert.Equal(t, "test", info.Environment)
	assert.Equal(t, "memory", info.Driver)
	assert.Equal(t, ModelVersions{Scoring: "heat-v1+abc", Prediction: "predict-v1+def"}, info.Models)
	assert.NotEmpty(t, info.Uptime)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0h 0m 0s"},
		{90 * time.Second, "0h 1m 30s"},
		{3*time.Hour + 5*time.Minute, "3h 5m 0s"},
		{26*time.Hour + 1*time.Second, "1d 2h 0m 1s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatUptime(tt.duration))
	}
}
