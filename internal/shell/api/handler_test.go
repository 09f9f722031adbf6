package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agentconfig"
	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/artpar/watchtower-agent/internal/shell/api/middleware"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
	"github.com/artpar/watchtower-agent/internal/shell/updateengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *runtime.FakeAdapter) {
	t.Helper()
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	store := configstore.New(agentconfig.Default())
	engine := updateengine.New(f, reg, bus, store, 16, nil)
	h := New(reg, bus, engine, f, store, nil, nil)
	return h, reg, f
}

func TestHandleStatusReturnsMonitoredCount(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{ID: "a"}}})

	req := httptest.NewRequest(http.MethodGet, "/api/watchtower/status", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.MonitoredCount)
}

func TestHandleGetContainerNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/watchtower/containers/missing", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMutatingEndpointRejectsWithoutPrincipal(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{ID: "a", UpdateState: containermodel.UpdateIdle}}})

	req := httptest.NewRequest(http.MethodPost, "/api/watchtower/containers/a/start", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMutatingEndpointAcceptsWithPrincipal(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{ID: "a", UpdateState: containermodel.UpdateIdle}}})

	req := httptest.NewRequest(http.MethodPost, "/api/watchtower/containers/a/start", nil)
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUpdateEndpointConflictWhenAlreadyUpdating(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{ID: "a", UpdateState: containermodel.UpdateUpdating}}})

	req := httptest.NewRequest(http.MethodPost, "/api/watchtower/containers/a/update", nil)
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteContainerAccepted(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{ID: "a", UpdateState: containermodel.UpdateIdle}}})

	req := httptest.NewRequest(http.MethodDelete, "/api/watchtower/containers/a", nil)
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleStatsTalliesByUpdateState(t *testing.T) {
	h, reg, _ := newTestHandler(t)
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{
		{ID: "a", Status: containermodel.StatusRunning, UpdateState: containermodel.UpdateIdle},
		{ID: "b", Status: containermodel.StatusRunning, UpdateState: containermodel.UpdateAvailable},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/watchtower/stats", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.MonitoredCount)
	assert.Equal(t, 1, body.ContainersByUpdateState["idle"])
	assert.Equal(t, 1, body.ContainersByUpdateState["update_available"])
}

func TestHandleListImagesReturnsRuntimeUnavailable(t *testing.T) {
	h, _, f := newTestHandler(t)
	f.SetListError(agenterrors.New(agenterrors.KindRuntimeUnavailable, "ListImages", "daemon unreachable", nil))

	req := httptest.NewRequest(http.MethodGet, "/api/watchtower/images", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlePullImageAccepted(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/watchtower/images/app:2/pull", nil)
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestPutConfigRejectsInvalidValue(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/watchtower/config", strings.NewReader(`{"check_interval":"0s"}`))
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutConfigAppliesValidPatch(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/watchtower/config", strings.NewReader(`{"check_interval":"45s"}`))
	req.Header.Set(middleware.PrincipalHeader, "alice")
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, (45 * time.Second).String(), body.CheckInterval)
}
