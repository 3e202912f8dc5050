package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quota-service/internal/ratelimit"
)

func newAdminRouter(t *testing.T) (*stubStore, *ratelimit.Engine, chi.Router) {
	t.Helper()
	store, engine := newTestHarness(t)
	router := chi.NewRouter()
	NewAdminHandler(engine, zap.NewNop()).RegisterRoutes(router)
	return store, engine, router
}

func TestAdminResetIdentifier(t *testing.T) {
	_, engine, router := newAdminRouter(t)
	limits := ratelimit.QuotaLimits{RequestsPerMinute: 1, RequestsPerDay: 100}

	require.True(t, engine.Check(context.Background(), "user:42", limits).Allowed)
	require.False(t, engine.Check(context.Background(), "user:42", limits).Allowed)

	r := httptest.NewRequest(http.MethodPost, "/rate-limits/user:42/reset", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "user:42", data["identifier"])
	assert.Equal(t, true, data["reset"])

	// The identifier immediately has a fresh quota.
	assert.True(t, engine.Check(context.Background(), "user:42", limits).Allowed)
}

func TestAdminResetUnknownIdentifier(t *testing.T) {
	_, _, router := newAdminRouter(t)

	r := httptest.NewRequest(http.MethodPost, "/rate-limits/user:none/reset", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["reset"])
}

func TestAdminGetMetrics(t *testing.T) {
	_, engine, router := newAdminRouter(t)
	limits := ratelimit.QuotaLimits{RequestsPerMinute: 1, RequestsPerDay: 100}

	engine.Check(context.Background(), "user:1", limits)
	engine.Check(context.Background(), "user:1", limits)

	r := httptest.NewRequest(http.MethodGet, "/rate-limits/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                 `json:"success"`
		Data    ratelimit.EngineStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.Data.Allowed)
	assert.Equal(t, uint64(1), resp.Data.Blocked)
	assert.InDelta(t, 0.5, resp.Data.BlockRate, 1e-9)
	assert.NotNil(t, resp.Data.ActiveIdentifiers)
}

func TestAdminResetMetrics(t *testing.T) {
	_, engine, router := newAdminRouter(t)
	limits := ratelimit.QuotaLimits{RequestsPerMinute: 5, RequestsPerDay: 100}
	engine.Check(context.Background(), "user:1", limits)

	r := httptest.NewRequest(http.MethodPost, "/rate-limits/metrics/reset", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, engine.MetricsSnapshot().Allowed)
}
