package updateengine

import (
	"testing"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agentconfig"
	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/artpar/watchtower-agent/internal/core/fingerprint"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedReplicableContainer(t *testing.T, f *runtime.FakeAdapter, reg *registry.Registry) string {
	t.Helper()
	fp := fingerprint.Compute(fingerprint.Input{ImageRef: "app:1"})
	id := f.Seed(runtime.Detail{Summary: runtime.Summary{Name: "app", ImageRef: "app:1"}, ImageDigest: "sha256:aaa"})
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{
		ID: id, Name: "app", ImageRef: "app:1", ImageDigest: "sha256:aaa",
		Status: containermodel.StatusRunning, EnvFingerprint: fp, UpdateState: containermodel.UpdateIdle,
	}}})
	return id
}

func newTestEngine(f *runtime.FakeAdapter, reg *registry.Registry, bus *eventbus.Bus, cfg agentconfig.Config) *Engine {
	store := configstore.New(cfg)
	return New(f, reg, bus, store, 16, nil)
}

func TestRequestUpdateRejectsConflict(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	id := seedReplicableContainer(t, f, reg)

	e := newTestEngine(f, reg, bus, agentconfig.Default())
	require.NoError(t, e.RequestUpdate(id))
	assert.Error(t, e.RequestUpdate(id), "second concurrent RequestUpdate should be rejected with Conflict")
}

func TestRequestUpdateUnknownIDIsNotFound(t *testing.T) {
	reg := registry.New()
	bus := eventbus.New(64)
	e := newTestEngine(runtime.NewFakeAdapter(), reg, bus, agentconfig.Default())

	assert.Error(t, e.RequestUpdate("missing"))
}

func TestApplySuccessReplacesContainerAndRecordsHistory(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	id := seedReplicableContainer(t, f, reg)
	f.SetImageDigest("app:1", "sha256:bbb")

	e := newTestEngine(f, reg, bus, agentconfig.Default())
	reg.SetUpdateState(id, containermodel.UpdateUpdating, "", time.Now())
	e.apply(id)

	_, ok := reg.Get(id)
	assert.False(t, ok, "old container id should be gone after a successful apply")

	hist := e.History(10)
	require.Len(t, hist, 1)
	assert.Equal(t, "sha256:bbb", hist[0].NewImageDigest)
}

func TestApplyRefusesWhenFingerprintMissing(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	id := f.Seed(runtime.Detail{Summary: runtime.Summary{Name: "app", ImageRef: "app:1"}})
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{
		ID: id, Name: "app", ImageRef: "app:1", UpdateState: containermodel.UpdateIdle,
	}}})

	e := newTestEngine(f, reg, bus, agentconfig.Default())
	reg.SetUpdateState(id, containermodel.UpdateUpdating, "", time.Now())
	e.apply(id)

	rec, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, containermodel.UpdateFailed, rec.UpdateState)
}

func TestCheckTransitionsToUpdateAvailableOnDigestChange(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	id := seedReplicableContainer(t, f, reg)
	f.SetImageDigest("app:1", "sha256:ccc")

	e := newTestEngine(f, reg, bus, agentconfig.Default())
	rec, _ := reg.Get(id)
	e.check(rec)

	got, _ := reg.Get(id)
	assert.Equal(t, containermodel.UpdateAvailable, got.UpdateState)
}

func TestCheckReturnsToIdleWhenDigestUnchanged(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	id := seedReplicableContainer(t, f, reg)

	e := newTestEngine(f, reg, bus, agentconfig.Default())
	rec, _ := reg.Get(id)
	e.check(rec)

	got, _ := reg.Get(id)
	assert.Equal(t, containermodel.UpdateIdle, got.UpdateState)
}

func TestSweepDemotesUpdatedAndFailedToIdle(t *testing.T) {
	f := runtime.NewFakeAdapter()
	reg := registry.New()
	bus := eventbus.New(64)
	updatedID := seedReplicableContainer(t, f, reg)
	failedID := f.Seed(runtime.Detail{Summary: runtime.Summary{Name: "broken", ImageRef: "broken:1"}})
	reg.ApplyObservation(registry.Batch{Add: []containermodel.Record{{
		ID: failedID, Name: "broken", ImageRef: "broken:1",
		Status: containermodel.StatusRunning, UpdateState: containermodel.UpdateIdle,
	}}})

	reg.SetUpdateState(updatedID, containermodel.UpdateChecking, "", time.Now())
	reg.SetUpdateState(updatedID, containermodel.UpdateAvailable, "", time.Now())
	reg.SetUpdateState(updatedID, containermodel.UpdateUpdating, "", time.Now())
	reg.SetUpdateState(updatedID, containermodel.UpdateUpdated, "", time.Now())

	reg.SetUpdateState(failedID, containermodel.UpdateChecking, "", time.Now())
	reg.SetUpdateState(failedID, containermodel.UpdateAvailable, "", time.Now())
	reg.SetUpdateState(failedID, containermodel.UpdateUpdating, "", time.Now())
	reg.SetUpdateState(failedID, containermodel.UpdateFailed, "pull failed", time.Now())

	e := newTestEngine(f, reg, bus, agentconfig.Default())

	e.sweep()

	gotUpdated, _ := reg.Get(updatedID)
	assert.Equal(t, containermodel.UpdateIdle, gotUpdated.UpdateState)

	gotFailed, _ := reg.Get(failedID)
	assert.Equal(t, containermodel.UpdateIdle, gotFailed.UpdateState)
	assert.Empty(t, gotFailed.LastUpdateError, "LastUpdateError should be cleared after demotion to idle")
}
