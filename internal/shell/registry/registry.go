// Package registry is the single-owner, authoritative in-memory map of
// observed containers. Exactly one writer, the monitor loop, applies
// observation batches; every other component only reads a snapshot or
// goes through the Update Engine's narrow side channels, SetUpdateState and
// ReplaceAfterRecreate.
package registry

import (
	"sync"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/containermodel"
)

// DeltaKind discriminates a Registry Delta.
type DeltaKind string

const (
	DeltaAdded   DeltaKind = "added"
	DeltaUpdated DeltaKind = "updated"
	DeltaRemoved DeltaKind = "removed"
)

// Delta describes one add/update/remove observed by the registry, in
// observation order per container id.
type Delta struct {
	Kind   DeltaKind
	Record containermodel.Record
	// OldStatus is populated for every Updated delta; it equals
	// Record.Status when the status did not change.
	OldStatus containermodel.Status
}

// Batch is the diff submitted by the Monitor Loop to ApplyObservation: the
// set of containers to add, the set to update, and the set of ids to
// remove. The Monitor Loop never puts the same id in more than one of
// these three sets within a single batch.
type Batch struct {
	Add    []containermodel.Record
	Update []containermodel.Record
	Remove []string
}

// Registry is the single owner of Container Records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]containermodel.Record

	subMu sync.Mutex
	subs  map[int]chan Delta
	nextSub int
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]containermodel.Record),
		subs:    make(map[int]chan Delta),
	}
}

// Snapshot returns a consistent, immutable copy of all records at the call
// instant.
func (r *Registry) Snapshot() []containermodel.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]containermodel.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Get returns a copy of the record for id, and whether it was found.
func (r *Registry) Get(id string) (containermodel.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return containermodel.Record{}, false
	}
	return rec.Clone(), true
}

// Count returns the number of monitored containers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// ApplyObservation is the single-writer reconciliation entry point
// consumed only by the Monitor Loop. It applies adds, then updates, then
// removes (matching the add-before-update-before-remove ordering the
// caller is expected to have already partitioned by id), and publishes a
// Delta per change, synchronously, in that same order.
func (r *Registry) ApplyObservation(batch Batch) []Delta {
	r.mu.Lock()
	var deltas []Delta

	for _, rec := range batch.Add {
		r.records[rec.ID] = rec
		deltas = append(deltas, Delta{Kind: DeltaAdded, Record: rec.Clone()})
	}
	for _, rec := range batch.Update {
		old, existed := r.records[rec.ID]
		if !existed {
			// Treat a surprise update-without-prior-add as an add, for
			// robustness against a caller that mis-partitioned; it still
			// preserves registry consistency.
			r.records[rec.ID] = rec
			deltas = append(deltas, Delta{Kind: DeltaAdded, Record: rec.Clone()})
			continue
		}
		r.records[rec.ID] = rec
		deltas = append(deltas, Delta{Kind: DeltaUpdated, Record: rec.Clone(), OldStatus: old.Status})
	}
	for _, id := range batch.Remove {
		rec, existed := r.records[id]
		if !existed {
			continue
		}
		delete(r.records, id)
		deltas = append(deltas, Delta{Kind: DeltaRemoved, Record: rec.Clone()})
	}
	r.mu.Unlock()

	for _, d := range deltas {
		r.publish(d)
	}
	return deltas
}

// SetUpdateState is the narrow side-channel mutator consumed only by the
// Update Engine. It enforces the linear state-machine invariant:
// update_state is never transitioned backwards without going through idle
// or failed. A no-op id (container already gone) is silently ignored,
// since the Update Engine may still be finishing a recreate whose old
// record the Monitor Loop already dropped.
func (r *Registry) SetUpdateState(id string, newState containermodel.UpdateState, lastErr string, changedAt time.Time) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if !containermodel.CanTransition(rec.UpdateState, newState) {
		r.mu.Unlock()
		return false
	}
	old := rec.Status
	rec.UpdateState = newState
	rec.UpdateStateChangedAt = changedAt
	rec.LastUpdateError = lastErr
	r.records[id] = rec
	r.mu.Unlock()

	r.publish(Delta{Kind: DeltaUpdated, Record: rec.Clone(), OldStatus: old})
	return true
}

// ReplaceAfterRecreate atomically removes the old container id and installs
// the new one under its own id, used by the Update Engine after a
// successful apply replaces a container. It is still the Update Engine's
// narrow side-channel: the new record's UpdateState is stamped directly
// rather than going through the general transition check, since "updated"
// is a fresh record, not a continuation of the old one's state history.
func (r *Registry) ReplaceAfterRecreate(oldID string, newRecord containermodel.Record) []Delta {
	r.mu.Lock()
	var deltas []Delta
	if old, ok := r.records[oldID]; ok {
		delete(r.records, oldID)
		deltas = append(deltas, Delta{Kind: DeltaRemoved, Record: old.Clone()})
	}
	r.records[newRecord.ID] = newRecord
	deltas = append(deltas, Delta{Kind: DeltaAdded, Record: newRecord.Clone()})
	r.mu.Unlock()

	for _, d := range deltas {
		r.publish(d)
	}
	return deltas
}

// Subscribe returns a push channel of Registry Deltas and an unsubscribe
// function. The channel is buffered; a slow dashboard subscriber here only
// risks missing registry deltas, never container events (that guarantee
// belongs to the Event Bus.
func (r *Registry) Subscribe(buffer int) (<-chan Delta, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Delta, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	unsub := func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
		close(ch)
	}
	return ch, unsub
}

func (r *Registry) publish(d Delta) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- d:
		default:
			// drop for this subscriber only, never block the writer
		}
	}
}
