// Package updateengine drives the per-container update state machine, its
// check cycle, and the apply dispatcher bounded by max_parallel_updates.
// Its lifecycle follows the same context.CancelFunc + sync.WaitGroup +
// ticker shape as the monitor loop; the dispatcher re-reads
// max_parallel_updates from the live configuration before releasing each
// queued job, so a PUT /config change takes effect without a restart.
package updateengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/artpar/watchtower-agent/internal/core/eventmodel"
	"github.com/artpar/watchtower-agent/internal/core/updatemodel"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/metrics"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
	"github.com/google/uuid"
)

// ApplyTimeout is the hard ceiling on one apply procedure before it is
// marked failed with a timeout and rolled back.
const ApplyTimeout = 120 * time.Second

const (
	pullMaxAttempts  = 3
	pullBackoffBase  = 1 * time.Second
	pullBackoffCap   = 30 * time.Second
	startPollPeriod  = 200 * time.Millisecond
)

// Engine drives every container's update state machine.
type Engine struct {
	adapter  runtime.Adapter
	registry *registry.Registry
	bus      *eventbus.Bus
	config   *configstore.Store
	logger   *slog.Logger

	jobs chan job

	historyMu sync.Mutex
	history   *updatemodel.History

	inflightMu sync.Mutex
	inflight   map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	forceCheck chan struct{}
}

type job struct {
	containerID string
}

// New creates an Engine. historyCapacity bounds the retained Update Record
// count.
func New(adapter runtime.Adapter, reg *registry.Registry, bus *eventbus.Bus, cfg *configstore.Store, historyCapacity int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		adapter:    adapter,
		registry:   reg,
		bus:        bus,
		config:     cfg,
		logger:     logger.With("component", "update_engine"),
		jobs:       make(chan job, 1024),
		history:    updatemodel.NewHistory(historyCapacity),
		inflight:   make(map[string]bool),
		forceCheck: make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// IsUpdating reports whether id currently has an apply procedure in
// flight. The Monitor Loop consults this via SetUpdatingLookup to defer
// removal of a container mid-recreate.
func (e *Engine) IsUpdating(id string) bool {
	e.inflightMu.Lock()
	defer e.inflightMu.Unlock()
	return e.inflight[id]
}

// Start begins the check-cycle ticker and the apply dispatcher.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.dispatch()

	e.wg.Add(1)
	go e.checkLoop()

	e.logger.Info("update engine started", "max_parallel_updates", e.maxParallelUpdates())
}

// Stop cancels the check loop and the dispatcher, allowing in-flight
// applies to finish (bounded by ApplyTimeout internally).
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	close(e.jobs)
	e.wg.Wait()
	e.logger.Info("update engine stopped")
}

// ForceCheck nudges the check loop to run a sweep immediately, per the
// Control Surface's "force check-updates" operation.
func (e *Engine) ForceCheck() {
	select {
	case e.forceCheck <- struct{}{}:
	default:
	}
}

// RequestUpdate transitions id from idle or update_available into updating
// and enqueues its apply procedure. Returns a Conflict error if an update
// is already in flight for id, NotFound if id is unknown.
func (e *Engine) RequestUpdate(id string) error {
	rec, ok := e.registry.Get(id)
	if !ok {
		return agenterrors.New(agenterrors.KindNotFound, "RequestUpdate", "unknown container id", nil)
	}
	if rec.UpdateState == containermodel.UpdateUpdating {
		return agenterrors.New(agenterrors.KindConflict, "RequestUpdate", "an update is already in flight for this container", nil)
	}
	if !containermodel.CanTransition(rec.UpdateState, containermodel.UpdateUpdating) {
		return agenterrors.New(agenterrors.KindConflict, "RequestUpdate", "container is not in a state that can start an update", nil)
	}
	if !e.registry.SetUpdateState(id, containermodel.UpdateUpdating, "", time.Now()) {
		return agenterrors.New(agenterrors.KindConflict, "RequestUpdate", "update_state changed concurrently", nil)
	}
	e.enqueue(id)
	return nil
}

func (e *Engine) enqueue(id string) {
	select {
	case e.jobs <- job{containerID: id}:
	case <-e.ctx.Done():
	}
}

// History returns up to limit recent Update Records, newest first.
func (e *Engine) History(limit int) []updatemodel.Record {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	return e.history.Recent(limit)
}

func (e *Engine) maxParallelUpdates() int {
	n := e.config.Get().MaxParallelUpdates
	if n < 1 {
		n = 1
	}
	return n
}

// dispatch reads max_parallel_updates live off the configuration before
// releasing each job, so a PUT /config change to the cap takes effect on
// the next job dispatched rather than requiring a restart.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for j := range e.jobs {
		if !e.waitForSlot() {
			continue
		}
		// Claim the slot before spawning so the next waitForSlot counts it.
		e.inflightMu.Lock()
		e.inflight[j.containerID] = true
		e.inflightMu.Unlock()
		e.wg.Add(1)
		go func(id string) {
			defer e.wg.Done()
			e.apply(id)
		}(j.containerID)
	}
}

// waitForSlot blocks until fewer than max_parallel_updates applies are in
// flight, or the engine is stopping (returning false).
func (e *Engine) waitForSlot() bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		e.inflightMu.Lock()
		inFlight := len(e.inflight)
		e.inflightMu.Unlock()
		if inFlight < e.maxParallelUpdates() {
			return true
		}
		select {
		case <-ticker.C:
		case <-e.ctx.Done():
			return false
		}
	}
}

// checkLoop paces the check cycle by update_interval, re-reading it from
// the live configuration on every tick since it may change via the
// Control Surface.
func (e *Engine) checkLoop() {
	defer e.wg.Done()

	e.sweep()
	for {
		interval := e.config.Get().UpdateInterval
		if interval <= 0 {
			interval = 300 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.sweep()
		case <-e.forceCheck:
			timer.Stop()
			e.sweep()
		}
	}
}

// sweep runs one check cycle across every idle container and demotes any
// container left in updated or failed from its previous apply back to
// idle; a demoted container is not checked in the same sweep and re-enters
// the check cycle on the next one.
func (e *Engine) sweep() {
	for _, rec := range e.registry.Snapshot() {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		switch rec.UpdateState {
		case containermodel.UpdateUpdated, containermodel.UpdateFailed:
			e.registry.SetUpdateState(rec.ID, containermodel.UpdateIdle, "", time.Now())
		case containermodel.UpdateIdle:
			e.check(rec)
		}
	}
}

// check performs one container's check-cycle step.
func (e *Engine) check(rec containermodel.Record) {
	if !e.registry.SetUpdateState(rec.ID, containermodel.UpdateChecking, "", time.Now()) {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, 30*time.Second)
	digest, err := e.pullWithRetry(ctx, rec.ImageRef)
	cancel()
	if err != nil {
		e.logger.Warn("check cycle pull failed", "container_id", rec.ID, "error", err)
		e.registry.SetUpdateState(rec.ID, containermodel.UpdateIdle, err.Error(), time.Now())
		return
	}

	if digest == rec.ImageDigest {
		e.registry.SetUpdateState(rec.ID, containermodel.UpdateIdle, "", time.Now())
		return
	}

	e.registry.SetUpdateState(rec.ID, containermodel.UpdateAvailable, "", time.Now())
	e.bus.Emit(eventmodel.KindUpdateAvailable, rec.ID, map[string]any{
		"current_digest": rec.ImageDigest, "candidate_digest": digest,
	})

	if e.config.Get().AutoUpdate {
		if err := e.RequestUpdate(rec.ID); err != nil {
			e.logger.Warn("auto_update could not enqueue", "container_id", rec.ID, "error", err)
		}
	}
}

func (e *Engine) pullWithRetry(ctx context.Context, imageRef string) (string, error) {
	backoff := pullBackoffBase
	var lastErr error
	for attempt := 1; attempt <= pullMaxAttempts; attempt++ {
		digest, err := e.adapter.Pull(ctx, imageRef)
		if err == nil {
			return digest, nil
		}
		lastErr = err
		if attempt == pullMaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
		if backoff > pullBackoffCap {
			backoff = pullBackoffCap
		}
	}
	return "", lastErr
}

// apply runs the full apply procedure for a container already
// transitioned to updating: pull, stop, create, start, remove the old
// container, then best-effort image cleanup.
func (e *Engine) apply(id string) {
	e.inflightMu.Lock()
	e.inflight[id] = true
	e.inflightMu.Unlock()
	defer func() {
		e.inflightMu.Lock()
		delete(e.inflight, id)
		e.inflightMu.Unlock()
	}()

	rec, ok := e.registry.Get(id)
	if !ok {
		return
	}

	// Not derived from e.ctx: Stop lets an in-flight apply run to
	// completion, bounded only by ApplyTimeout.
	ctx, cancel := context.WithTimeout(context.Background(), ApplyTimeout)
	defer cancel()

	record := updatemodel.Record{
		ID:             uuid.NewString(),
		ContainerID:    id,
		OldImageDigest: rec.ImageDigest,
		StartedAt:      time.Now(),
	}
	e.bus.Emit(eventmodel.KindUpdateStarted, id, map[string]any{"old_digest": rec.ImageDigest})

	newID, newDigest, applyErr := e.doApply(ctx, rec)

	record.FinishedAt = time.Now()
	if applyErr != nil {
		record.Outcome = updatemodel.OutcomeFailed
		record.Error = applyErr.Error()
		e.registry.SetUpdateState(id, containermodel.UpdateFailed, applyErr.Error(), time.Now())
		e.bus.Emit(eventmodel.KindUpdateFailed, id, map[string]any{
			"error": applyErr.Error(), "kind": string(agenterrors.KindOf(applyErr)),
		})
		metrics.UpdatesFailed.Inc()
	} else {
		record.Outcome = updatemodel.OutcomeApplied
		record.NewImageDigest = newDigest
		e.registry.ReplaceAfterRecreate(id, recreatedRecord(rec, newID, newDigest))
		e.registry.SetUpdateState(newID, containermodel.UpdateUpdated, "", time.Now())
		e.bus.Emit(eventmodel.KindUpdateApplied, newID, map[string]any{
			"old_container_id": id, "new_digest": newDigest,
		})
		metrics.UpdatesApplied.Inc()
	}

	e.historyMu.Lock()
	e.history.Append(record)
	e.historyMu.Unlock()
}

// doApply executes steps 2-7 and returns the new container id and digest
// on success, performing a best-effort rollback on any failure before step
// 7.
func (e *Engine) doApply(ctx context.Context, rec containermodel.Record) (newID, newDigest string, err error) {
	if !rec.HasStableFingerprint() {
		return "", "", agenterrors.New(agenterrors.KindConfigNotReplicable, "Apply",
			"container has no stable env_fingerprint; recreation would not be safe", nil)
	}

	digest, err := e.pullWithRetry(ctx, rec.ImageRef)
	if err != nil {
		return "", "", agenterrors.New(agenterrors.KindRegistryUnreachable, "Apply", "pull failed", err)
	}

	spec := deriveRecreateSpec(rec, rec.ImageRef)

	if err := e.adapter.Stop(ctx, rec.ID, 10*time.Second); err != nil {
		e.rollback(rec.ID)
		return "", "", agenterrors.New(agenterrors.KindRuntimeUnavailable, "Apply", "stop failed", err)
	}

	createSpec := runtime.CreateSpec{
		Name:   spec.Name,
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	for _, p := range spec.Ports {
		createSpec.Ports = append(createSpec.Ports, runtime.PortBinding{
			ContainerPort: p.ContainerPort, HostPort: p.HostPort, Protocol: p.Protocol, HostIP: p.HostIP,
		})
	}
	for _, m := range spec.Mounts {
		createSpec.Mounts = append(createSpec.Mounts, runtime.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	id, err := e.adapter.Create(ctx, createSpec)
	if err != nil {
		e.rollback(rec.ID)
		return "", "", agenterrors.New(agenterrors.KindRuntimeUnavailable, "Apply", "create failed", err)
	}

	if err := e.waitUntilRunning(ctx, id); err != nil {
		e.rollback(rec.ID)
		return "", "", err
	}

	if err := e.adapter.Remove(ctx, rec.ID, true); err != nil {
		e.logger.Warn("best-effort removal of old container failed", "container_id", rec.ID, "error", err)
	}
	if e.config.Get().Cleanup && rec.ImageDigest != "" && rec.ImageDigest != digest {
		if err := e.adapter.ImageRemove(ctx, rec.ImageDigest); err != nil {
			e.logger.Debug("best-effort old image removal failed", "digest", rec.ImageDigest, "error", err)
		}
	}

	return id, digest, nil
}

func (e *Engine) waitUntilRunning(ctx context.Context, id string) error {
	ticker := time.NewTicker(startPollPeriod)
	defer ticker.Stop()

	if err := e.adapter.Start(ctx, id); err != nil {
		return agenterrors.New(agenterrors.KindRuntimeUnavailable, "Apply", "start failed", err)
	}

	for {
		detail, err := e.adapter.Inspect(ctx, id)
		if err == nil && detail.Status == "running" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return agenterrors.New(agenterrors.KindTimeout, "Apply", "timed out waiting for new container to start", ctx.Err())
		}
	}
}

// rollback attempts to restore the prior running container after a
// mid-apply failure, before the old container has been removed.
func (e *Engine) rollback(oldID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.adapter.Start(ctx, oldID); err != nil {
		e.logger.Error("rollback start failed", "container_id", oldID, "error", err)
	}
}

func deriveRecreateSpec(rec containermodel.Record, newImage string) updatemodel.RecreateSpec {
	ports := make([]updatemodel.PortBinding, len(rec.Ports))
	for i, p := range rec.Ports {
		ports[i] = updatemodel.PortBinding{ContainerPort: p.ContainerPort, HostPort: p.HostPort, Protocol: p.Protocol, HostIP: p.HostIP}
	}
	return updatemodel.RecreateSpec{
		Name:   rec.Name,
		Image:  newImage,
		Labels: rec.Labels,
		Ports:  ports,
	}
}

func recreatedRecord(old containermodel.Record, newID, newDigest string) containermodel.Record {
	rec := old.Clone()
	rec.ID = newID
	rec.ImageDigest = newDigest
	rec.Status = containermodel.StatusRunning
	rec.StartedAt = time.Now()
	rec.LastSeenAt = time.Now()
	return rec
}

