// Package monitor implements the periodic reconciliation worker that lists
// the runtime, diffs against the Container Registry, and applies the
// result as one observation batch. Its lifecycle is the standard
// background-worker shape used across this agent: a context.CancelFunc
// plus sync.WaitGroup around a run loop that re-reads its pacing from the
// live configuration on every cycle, the same way the update engine's
// check loop re-reads update_interval.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/artpar/watchtower-agent/internal/core/eventmodel"
	"github.com/artpar/watchtower-agent/internal/core/fingerprint"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/metrics"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
)

// DefaultInterval is used whenever the live configuration's check_interval
// is unset or invalid.
const DefaultInterval = 30 * time.Second

// Loop is the single consumer of Adapter.List and the single producer of
// registry.Batch values.
type Loop struct {
	adapter  runtime.Adapter
	registry *registry.Registry
	bus      *eventbus.Bus
	config   *configstore.Store
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	outage      bool // true while the runtime is considered unavailable
	updatingFn  UpdatingLookup
	lastCheckAt time.Time
}

// LastCheckAt returns the time the most recently completed tick finished,
// consumed by the Control Surface's "get agent status" operation.
func (l *Loop) LastCheckAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCheckAt
}

// New creates a Loop against the live Agent Configuration. A PUT /config
// change to check_interval or label_filter takes effect starting the next
// tick, the same way the Update Engine re-reads update_interval. updating
// is consulted on every tick to defer removal of containers the Update
// Engine currently has in flight; the Update Engine supplies it via
// SetUpdatingLookup once wired, since the two components are constructed
// in sequence by cmd/watchtower-agent.
func New(adapter runtime.Adapter, reg *registry.Registry, bus *eventbus.Bus, cfg *configstore.Store, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		adapter:  adapter,
		registry: reg,
		bus:      bus,
		config:   cfg,
		logger:   logger.With("component", "monitor"),
	}
}

func (l *Loop) interval() time.Duration {
	interval := l.config.Get().CheckInterval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return interval
}

// UpdatingLookup reports whether id currently has an update in flight.
type UpdatingLookup func(id string) bool

// SetUpdatingLookup installs the Update Engine's in-flight check. Must be
// called before Start.
func (l *Loop) SetUpdatingLookup(fn UpdatingLookup) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updatingFn = fn
}

// Start begins the reconciliation background goroutine.
func (l *Loop) Start() {
	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.wg.Add(1)
	go l.run()
	cfg := l.config.Get()
	l.logger.Info("monitor loop started", "interval", l.interval(), "label_filter", cfg.LabelFilter)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.logger.Info("monitor loop stopped")
}

func (l *Loop) run() {
	defer l.wg.Done()

	l.tick()

	for {
		timer := time.NewTimer(l.interval())
		select {
		case <-l.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			l.tick()
		}
	}
}

func (l *Loop) isUpdating(id string) bool {
	l.mu.Lock()
	fn := l.updatingFn
	l.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(id)
}

// tick runs one reconciliation cycle: list, diff against the registry
// snapshot, apply the batch. Runtime outages never mutate the registry;
// they only toggle the runtime.unavailable / runtime.recovered events,
// de-duplicated across consecutive failing ticks.
func (l *Loop) tick() {
	start := time.Now()
	defer func() {
		metrics.CheckCycleDuration.Observe(time.Since(start).Seconds())
		l.mu.Lock()
		l.lastCheckAt = time.Now()
		l.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(l.ctx, l.interval())
	defer cancel()

	labelFilter := l.config.Get().LabelFilter

	summaries, listErrs, err := l.adapter.List(ctx)
	if err != nil {
		l.handleOutage(err)
		return
	}
	l.handleRecovery()

	for _, le := range listErrs {
		l.logger.Warn("partial list failure", "container_id", le.ContainerID, "error", le.Err)
	}

	seen := make(map[string]bool, len(summaries))
	batch := registry.Batch{}

	for _, s := range summaries {
		if !matchesLabelFilter(s.Labels, labelFilter) {
			continue
		}

		seen[s.ID] = true
		existing, known := l.registry.Get(s.ID)

		detail, err := l.adapter.Inspect(ctx, s.ID)
		if err != nil {
			l.logger.Warn("inspect failed, skipping this tick", "container_id", s.ID, "error", err)
			continue
		}

		rec := recordFromDetail(detail)
		if known {
			rec.UpdateState = existing.UpdateState
			rec.UpdateStateChangedAt = existing.UpdateStateChangedAt
			rec.LastUpdateError = existing.LastUpdateError
		} else {
			rec.UpdateState = containermodel.UpdateIdle
		}
		rec.LastSeenAt = time.Now()

		if !known {
			batch.Add = append(batch.Add, rec)
		} else if existing.Status != rec.Status || existing.ImageDigest != rec.ImageDigest || existing.EnvFingerprint != rec.EnvFingerprint {
			batch.Update = append(batch.Update, rec)
		}
	}

	for _, rec := range l.registry.Snapshot() {
		if seen[rec.ID] {
			continue
		}
		if l.isUpdating(rec.ID) {
			// Deferred removal: the Update Engine is mid-recreate for this
			// id and will replace it itself via ReplaceAfterRecreate.
			continue
		}
		batch.Remove = append(batch.Remove, rec.ID)
	}

	deltas := l.registry.ApplyObservation(batch)
	l.emitDeltaEvents(deltas)
	metrics.MonitoredContainers.Set(float64(l.registry.Count()))
}

func (l *Loop) emitDeltaEvents(deltas []registry.Delta) {
	for _, d := range deltas {
		switch d.Kind {
		case registry.DeltaAdded:
			l.bus.Emit(eventmodel.KindContainerRegistered, d.Record.ID, map[string]any{
				"name": d.Record.Name, "image_ref": d.Record.ImageRef,
			})
		case registry.DeltaRemoved:
			l.bus.Emit(eventmodel.KindContainerUnregistered, d.Record.ID, map[string]any{
				"name": d.Record.Name,
			})
		case registry.DeltaUpdated:
			if d.OldStatus != d.Record.Status {
				l.bus.Emit(eventmodel.KindContainerStatusChanged, d.Record.ID, map[string]any{
					"from": string(d.OldStatus), "to": string(d.Record.Status),
				})
			}
		}
	}
}

func (l *Loop) handleOutage(err error) {
	l.mu.Lock()
	alreadyDown := l.outage
	l.outage = true
	l.mu.Unlock()

	if alreadyDown {
		return
	}
	l.logger.Error("runtime unavailable", "error", err)
	metrics.RuntimeOutages.Inc()
	l.bus.Emit(eventmodel.KindRuntimeUnavailable, "", map[string]any{"error": err.Error()})
}

func (l *Loop) handleRecovery() {
	l.mu.Lock()
	wasDown := l.outage
	l.outage = false
	l.mu.Unlock()

	if !wasDown {
		return
	}
	l.logger.Info("runtime recovered")
	l.bus.Emit(eventmodel.KindRuntimeRecovered, "", nil)
}

// matchesLabelFilter reports whether labels satisfies filter. filter is a
// comma-separated list of "key" (presence) or "key=value" (exact match)
// terms, all of which must hold; an empty filter matches everything.
func matchesLabelFilter(labels map[string]string, filter string) bool {
	if filter == "" {
		return true
	}
	for _, term := range strings.Split(filter, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		key, want, hasValue := strings.Cut(term, "=")
		got, ok := labels[key]
		if !ok {
			return false
		}
		if hasValue && got != want {
			return false
		}
	}
	return true
}

func recordFromDetail(d runtime.Detail) containermodel.Record {
	ports := make([]containermodel.PortBinding, len(d.Ports))
	for i, p := range d.Ports {
		ports[i] = containermodel.PortBinding{
			ContainerPort: p.ContainerPort, HostPort: p.HostPort,
			Protocol: p.Protocol, HostIP: p.HostIP,
		}
	}

	fpMounts := make([]fingerprint.Mount, len(d.Mounts))
	for i, m := range d.Mounts {
		fpMounts[i] = fingerprint.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly}
	}
	fpPorts := make([]fingerprint.Port, len(d.Ports))
	for i, p := range d.Ports {
		fpPorts[i] = fingerprint.Port{ContainerPort: p.ContainerPort, HostPort: p.HostPort, Protocol: p.Protocol, HostIP: p.HostIP}
	}

	fp := fingerprint.Compute(fingerprint.Input{
		ImageRef: d.ImageRef,
		Env:      d.Env,
		Mounts:   fpMounts,
		Ports:    fpPorts,
		Labels:   d.Labels,
	})

	return containermodel.Record{
		ID:             d.ID,
		Name:           d.Name,
		ImageRef:       d.ImageRef,
		ImageDigest:    d.ImageDigest,
		Status:         containermodel.Status(d.Status),
		CreatedAt:      d.CreatedAt,
		StartedAt:      d.StartedAt,
		Labels:         d.Labels,
		Ports:          ports,
		EnvFingerprint: fp,
	}
}
