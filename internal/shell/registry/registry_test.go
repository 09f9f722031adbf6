package registry

import (
	"testing"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyObservationAddUpdateRemove(t *testing.T) {
	r := New()

	deltas := r.ApplyObservation(Batch{
		Add: []containermodel.Record{{ID: "a", Status: containermodel.StatusRunning}},
	})
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaAdded, deltas[0].Kind)
	assert.Equal(t, 1, r.Count())

	deltas = r.ApplyObservation(Batch{
		Update: []containermodel.Record{{ID: "a", Status: containermodel.StatusPaused}},
	})
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaUpdated, deltas[0].Kind)
	assert.Equal(t, containermodel.StatusRunning, deltas[0].OldStatus)

	deltas = r.ApplyObservation(Batch{Remove: []string{"a"}})
	require.Len(t, deltas, 1)
	assert.Equal(t, DeltaRemoved, deltas[0].Kind)
	assert.Equal(t, 0, r.Count())
}

func TestSnapshotIsImmutable(t *testing.T) {
	r := New()
	r.ApplyObservation(Batch{Add: []containermodel.Record{{ID: "a", Labels: map[string]string{"x": "1"}}}})

	snap := r.Snapshot()
	snap[0].Labels["x"] = "mutated"

	rec, _ := r.Get("a")
	assert.Equal(t, "1", rec.Labels["x"], "mutating a snapshot copy leaked into the registry")
}

func TestSetUpdateStateRejectsIllegalTransition(t *testing.T) {
	r := New()
	r.ApplyObservation(Batch{Add: []containermodel.Record{{ID: "a", UpdateState: containermodel.UpdateIdle}}})

	require.True(t, r.SetUpdateState("a", containermodel.UpdateUpdating, "", time.Now()), "idle -> updating should be legal")
	assert.False(t, r.SetUpdateState("a", containermodel.UpdateAvailable, "", time.Now()), "updating -> update_available should be rejected")

	rec, _ := r.Get("a")
	assert.Equal(t, containermodel.UpdateUpdating, rec.UpdateState, "should still be updating after rejected transition")
}

func TestSubscribeReceivesDeltasInOrder(t *testing.T) {
	r := New()
	ch, unsub := r.Subscribe(8)
	defer unsub()

	r.ApplyObservation(Batch{Add: []containermodel.Record{{ID: "a"}}})
	r.ApplyObservation(Batch{Update: []containermodel.Record{{ID: "a", Status: containermodel.StatusExited}}})

	d1 := <-ch
	d2 := <-ch
	assert.Equal(t, DeltaAdded, d1.Kind)
	assert.Equal(t, DeltaUpdated, d2.Kind)
}

func TestReplaceAfterRecreate(t *testing.T) {
	r := New()
	r.ApplyObservation(Batch{Add: []containermodel.Record{{ID: "old"}}})

	deltas := r.ReplaceAfterRecreate("old", containermodel.Record{ID: "new"})
	require.Len(t, deltas, 2)
	assert.Equal(t, DeltaRemoved, deltas[0].Kind)
	assert.Equal(t, DeltaAdded, deltas[1].Kind)

	_, ok := r.Get("old")
	assert.False(t, ok, "old id should be gone")
	_, ok = r.Get("new")
	assert.True(t, ok, "new id should be present")
}
