package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetgate/internal/config"
	"fleetgate/internal/keys"
	"fleetgate/internal/logger"
	"fleetgate/internal/model"
	"fleetgate/internal/store"
	"fleetgate/internal/threat"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

const adminPassword = "hunter2"

type env struct {
	router *gin.Engine
	keys   keys.Manager
	mem    *store.MemoryStore
	rec    *threat.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	log := logger.NewWithWriter(discard{}, false)
	km := keys.NewManager(mem, log, nil)
	rec := threat.NewRecorder(mem, log, nil)
	intel := threat.NewIntelCache(mem, nil, time.Hour, log)
	detector := threat.NewDetector(mem, config.ThreatConfig{
		FloodCeiling:     300,
		FloodBanDuration: 10 * time.Minute,
	}, rec, intel, log)

	h := NewHandler(km, rec, detector, mem)
	router := gin.New()
	SetupRoutes(router, h, &config.Config{
		Admin: config.AdminConfig{Password: adminPassword},
	}, nil)

	return &env{router: router, keys: km, mem: mem, rec: rec}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.SetBasicAuth("admin", adminPassword)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) issue(t *testing.T) *keys.CreatedKey {
	t.Helper()
	created, err := e.keys.Create(context.Background(), keys.CreateRequest{
		Name:        "dispatch-board",
		Permissions: []string{"fleet:read"},
	}, "admin")
	require.NoError(t, err)
	return created
}

func TestAdminRequiresAuth(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	req = httptest.NewRequest(http.MethodGet, "/admin/keys", nil)
	req.SetBasicAuth("admin", "wrong")
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateKeyEndpoint(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/admin/keys", map[string]interface{}{
		"name":        "dispatch-board",
		"permissions": []string{"fleet:read"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created keys.CreatedKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Secret)
	assert.Equal(t, model.KeyStatusActive, created.Key.Status)
	assert.Equal(t, "admin", created.Key.Metadata["created_by"])
}

func TestCreateKeyValidation(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/admin/keys", map[string]interface{}{
		"name": "missing-permissions",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAndListKeys(t *testing.T) {
	e := newEnv(t)
	created := e.issue(t)

	w := e.do(t, http.MethodGet, "/admin/keys/"+created.Key.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var key model.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &key))
	assert.Equal(t, created.Key.ID, key.ID)
	// Only the creation response ever carries secret material.
	assert.NotContains(t, w.Body.String(), "secret")

	w = e.do(t, http.MethodGet, "/admin/keys?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Keys  []model.APIKey `json:"keys"`
		Total int            `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Keys, 1)

	w = e.do(t, http.MethodGet, "/admin/keys?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/admin/keys/ak_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateKeyEndpoint(t *testing.T) {
	e := newEnv(t)
	created := e.issue(t)

	w := e.do(t, http.MethodPut, "/admin/keys/"+created.Key.ID, map[string]interface{}{
		"status": "inactive",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var key model.APIKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &key))
	assert.Equal(t, model.KeyStatusInactive, key.Status)

	// Revocation is not reachable through update.
	w = e.do(t, http.MethodPut, "/admin/keys/"+created.Key.ID, map[string]interface{}{
		"status": "revoked",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevokeAndRotateEndpoints(t *testing.T) {
	e := newEnv(t)
	created := e.issue(t)

	w := e.do(t, http.MethodPost, "/admin/keys/"+created.Key.ID+"/rotate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rotated keys.CreatedKey
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rotated))
	assert.NotEqual(t, created.Secret, rotated.Secret)

	w = e.do(t, http.MethodPost, "/admin/keys/"+created.Key.ID+"/revoke", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Revocation is terminal: 409 on repeat, 409 on rotate.
	w = e.do(t, http.MethodPost, "/admin/keys/"+created.Key.ID+"/revoke", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = e.do(t, http.MethodPost, "/admin/keys/"+created.Key.ID+"/rotate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/admin/keys/ak_missing/revoke", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeyAnalyticsEndpoint(t *testing.T) {
	e := newEnv(t)
	created := e.issue(t)

	w := e.do(t, http.MethodGet, "/admin/keys/"+created.Key.ID+"/analytics?days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var analytics model.KeyAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &analytics))
	assert.Equal(t, created.Key.ID, analytics.KeyID)
	assert.Len(t, analytics.DailySeries, 7)
}

func TestSecurityEventsEndpoints(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.rec.Record(ctx, model.SecurityEvent{
		Type:     model.EventInjection,
		Severity: model.SeverityCritical,
		SourceIP: "203.0.113.10",
		Blocked:  true,
	})
	// Recording is asynchronous on the request path; the counters are the
	// last write.
	require.Eventually(t, func() bool {
		counts, err := e.rec.CountsByType(ctx)
		return err == nil && counts[string(model.EventInjection)] == 1
	}, time.Second, 10*time.Millisecond)

	w := e.do(t, http.MethodGet, "/admin/security/events?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Events []model.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, model.EventInjection, events.Events[0].Type)

	w = e.do(t, http.MethodPost, "/admin/security/deny/198.51.100.7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/admin/security/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Counts   map[string]int64 `json:"counts_by_type"`
		DenySize int64            `json:"deny_list_size"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Counts[string(model.EventInjection)])
	assert.Equal(t, int64(1), stats.DenySize)

	w = e.do(t, http.MethodDelete, "/admin/security/deny/198.51.100.7", nil)
	require.Equal(t, http.StatusOK, w.Code)

	denied, err := e.mem.SIsMember(ctx, "security:iplist:deny", "198.51.100.7")
	require.NoError(t, err)
	assert.False(t, denied)
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)

	// Health is public, no basic auth.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var health struct {
		Status         string `json:"status"`
		StoreReachable bool   `json:"storeReachable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.True(t, health.StoreReachable)

	e.mem.FailAll = true
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.False(t, health.StoreReachable)
}
