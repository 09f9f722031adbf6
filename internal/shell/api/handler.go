// Package api provides the HTTP+JSON Control Surface and WebSocket push
// channel for the agent.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/watchtower-agent/internal/core/agentconfig"
	"github.com/artpar/watchtower-agent/internal/core/agenterrors"
	"github.com/artpar/watchtower-agent/internal/core/containermodel"
	"github.com/artpar/watchtower-agent/internal/core/updatemodel"
	"github.com/artpar/watchtower-agent/internal/shell/api/middleware"
	"github.com/artpar/watchtower-agent/internal/shell/api/openapi"
	"github.com/artpar/watchtower-agent/internal/shell/configstore"
	"github.com/artpar/watchtower-agent/internal/shell/eventbus"
	"github.com/artpar/watchtower-agent/internal/shell/registry"
	"github.com/artpar/watchtower-agent/internal/shell/runtime"
	"github.com/artpar/watchtower-agent/internal/shell/updateengine"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RuntimeCommander is the subset of the runtime Adapter the Control
// Surface issues commands against directly, separate from the Update
// Engine's own use of the same adapter.
type RuntimeCommander interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string, force bool) error
	Pull(ctx context.Context, imageRef string) (digest string, err error)
	ListImages(ctx context.Context) ([]runtime.Image, error)
}

// Handler serves the Control Surface.
type Handler struct {
	registry    *registry.Registry
	bus         *eventbus.Bus
	engine      *updateengine.Engine
	runtime     RuntimeCommander
	config      *configstore.Store
	openapi     *openapi.Generator
	lastCheckAt func() time.Time
	logger      *slog.Logger
}

// New creates a Handler wiring every component the Control Surface fronts.
func New(reg *registry.Registry, bus *eventbus.Bus, engine *updateengine.Engine, rt RuntimeCommander, cfg *configstore.Store, lastCheckAt func() time.Time, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:    reg,
		bus:         bus,
		engine:      engine,
		runtime:     rt,
		config:      cfg,
		openapi:     openapi.NewGenerator(),
		lastCheckAt: lastCheckAt,
		logger:      logger.With("component", "api"),
	}
}

// Routes builds the full router: ambient middleware, the /api/watchtower
// endpoint table, /ws, /metrics, and the OpenAPI document.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Auth)
	r.Use(h.jsonContentType)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/watchtower/openapi.json", h.openapi.Handler())

	r.Route("/api/watchtower", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/containers", h.handleListContainers)
		r.Get("/containers/{id}", h.handleGetContainer)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.logger))
			r.Post("/containers/{id}/start", h.handleStart)
			r.Post("/containers/{id}/stop", h.handleStop)
			r.Post("/containers/{id}/restart", h.handleRestart)
			r.Delete("/containers/{id}", h.handleRemove)
			r.Post("/containers/{id}/update", h.handleUpdate)
			r.Post("/check-updates", h.handleForceCheck)
			r.Put("/config", h.handlePutConfig)
			r.Post("/images/{name}/pull", h.handlePullImage)
		})

		r.Get("/updates", h.handleUpdateHistory)
		r.Get("/config", h.handleGetConfig)
		r.Get("/stats", h.handleStats)
		r.Get("/images", h.handleListImages)
	})

	r.Get("/ws", h.handleWebSocket)

	return r
}

func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := agenterrors.KindOf(err)
	status := statusForKind(kind)
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: string(kind)})
}

func statusForKind(kind agenterrors.Kind) int {
	switch kind {
	case agenterrors.KindNotFound:
		return http.StatusNotFound
	case agenterrors.KindConflict:
		return http.StatusConflict
	case agenterrors.KindInvalidConfig:
		return http.StatusBadRequest
	case agenterrors.KindAuthRequired:
		return http.StatusUnauthorized
	case agenterrors.KindConfigNotReplicable:
		return http.StatusConflict
	case agenterrors.KindRuntimeUnavailable, agenterrors.KindRegistryUnreachable:
		return http.StatusServiceUnavailable
	case agenterrors.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var lastCheck time.Time
	if h.lastCheckAt != nil {
		lastCheck = h.lastCheckAt()
	}
	cfg := h.config.Get()
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:             "running",
		MonitoredCount:     h.registry.Count(),
		LastCheckAt:        lastCheck,
		UpdateHistoryCount: len(h.engine.History(0)),
		AutoUpdate:         cfg.AutoUpdate,
		Cleanup:            cfg.Cleanup,
	})
}

func (h *Handler) handleListContainers(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	out := make([]ContainerResponse, len(snap))
	for i, rec := range snap {
		out[i] = containerResponse(rec)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.registry.Get(id)
	if !ok {
		h.writeError(w, agenterrors.New(agenterrors.KindNotFound, "GetContainer", "container not found", nil))
		return
	}
	h.writeJSON(w, http.StatusOK, containerResponse(rec))
}

func containerResponse(rec containermodel.Record) ContainerResponse {
	return ContainerResponse{
		ID:                   rec.ID,
		Name:                 rec.Name,
		ImageRef:             rec.ImageRef,
		ImageDigest:          rec.ImageDigest,
		Status:               string(rec.Status),
		CreatedAt:            rec.CreatedAt,
		StartedAt:            rec.StartedAt,
		LastSeenAt:           rec.LastSeenAt,
		Labels:               rec.Labels,
		UpdateState:          string(rec.UpdateState),
		UpdateStateChangedAt: rec.UpdateStateChangedAt,
		LastUpdateError:      rec.LastUpdateError,
	}
}

// runtimeCommand guards a start/stop/restart/remove request against an
// unknown id or an in-flight update (Conflict).
func (h *Handler) runtimeCommand(w http.ResponseWriter, r *http.Request, do func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		h.writeError(w, agenterrors.New(agenterrors.KindNotFound, "RuntimeCommand", "container not found", nil))
		return
	}
	if h.engine.IsUpdating(id) {
		h.writeError(w, agenterrors.New(agenterrors.KindConflict, "RuntimeCommand", "an update is in flight for this container", nil))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := do(ctx, id); err != nil {
			h.logger.Error("runtime command failed", "container_id", id, "error", err)
		}
	}()

	h.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true, ContainerID: id})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.runtimeCommand(w, r, func(ctx context.Context, id string) error { return h.runtime.Start(ctx, id) })
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	h.runtimeCommand(w, r, func(ctx context.Context, id string) error { return h.runtime.Stop(ctx, id, 10*time.Second) })
}

func (h *Handler) handleRestart(w http.ResponseWriter, r *http.Request) {
	h.runtimeCommand(w, r, func(ctx context.Context, id string) error {
		if err := h.runtime.Stop(ctx, id, 10*time.Second); err != nil {
			return err
		}
		return h.runtime.Start(ctx, id)
	})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	h.runtimeCommand(w, r, func(ctx context.Context, id string) error { return h.runtime.Remove(ctx, id, true) })
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.RequestUpdate(id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, AcceptedResponse{Accepted: true, ContainerID: id})
}

func (h *Handler) handleForceCheck(w http.ResponseWriter, r *http.Request) {
	h.engine.ForceCheck()
	h.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := h.registry.Snapshot()
	byStatus := map[string]int{}
	byUpdateState := map[string]int{}
	for _, rec := range snap {
		byStatus[string(rec.Status)]++
		byUpdateState[string(rec.UpdateState)]++
	}

	var applied, failed int
	for _, rec := range h.engine.History(0) {
		switch rec.Outcome {
		case updatemodel.OutcomeApplied:
			applied++
		case updatemodel.OutcomeFailed:
			failed++
		}
	}

	h.writeJSON(w, http.StatusOK, StatsResponse{
		MonitoredCount:          len(snap),
		ContainersByStatus:      byStatus,
		ContainersByUpdateState: byUpdateState,
		UpdatesApplied:          applied,
		UpdatesFailed:           failed,
	})
}

func (h *Handler) handleListImages(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	images, err := h.runtime.ListImages(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ImageResponse, len(images))
	for i, img := range images {
		out[i] = ImageResponse{RepoTag: img.RepoTag, Digest: img.Digest, Size: img.Size, CreatedAt: img.CreatedAt}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePullImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := h.runtime.Pull(ctx, name); err != nil {
			h.logger.Error("image pull failed", "image_ref", name, "error", err)
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (h *Handler) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	records := h.engine.History(limit)
	out := make([]UpdateRecordResponse, len(records))
	for i, rec := range records {
		out[i] = UpdateRecordResponse{
			ID: rec.ID, ContainerID: rec.ContainerID,
			OldImageDigest: rec.OldImageDigest, NewImageDigest: rec.NewImageDigest,
			Outcome: string(rec.Outcome), StartedAt: rec.StartedAt, FinishedAt: rec.FinishedAt,
			Error: rec.Error,
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, configResponse(h.config.Get()))
}

func configResponse(c agentconfig.Config) ConfigResponse {
	return ConfigResponse{
		CheckInterval:      c.CheckInterval.String(),
		UpdateInterval:     c.UpdateInterval.String(),
		AutoUpdate:         c.AutoUpdate,
		Cleanup:            c.Cleanup,
		LabelFilter:        c.LabelFilter,
		EventBufferSize:    c.EventBufferSize,
		MaxParallelUpdates: c.MaxParallelUpdates,
	}
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body ConfigPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, agenterrors.New(agenterrors.KindInvalidConfig, "PutConfig", "invalid JSON body", err))
		return
	}

	patch, err := patchFromRequest(body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cfg, err := h.config.Apply(patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, configResponse(cfg))
}

func patchFromRequest(body ConfigPatchRequest) (agentconfig.Patch, error) {
	var patch agentconfig.Patch
	if body.CheckInterval != nil {
		d, err := time.ParseDuration(*body.CheckInterval)
		if err != nil {
			return patch, agenterrors.New(agenterrors.KindInvalidConfig, "PutConfig", "check_interval: "+err.Error(), nil)
		}
		patch.CheckInterval = &d
	}
	if body.UpdateInterval != nil {
		d, err := time.ParseDuration(*body.UpdateInterval)
		if err != nil {
			return patch, agenterrors.New(agenterrors.KindInvalidConfig, "PutConfig", "update_interval: "+err.Error(), nil)
		}
		patch.UpdateInterval = &d
	}
	patch.AutoUpdate = body.AutoUpdate
	patch.Cleanup = body.Cleanup
	patch.LabelFilter = body.LabelFilter
	patch.EventBufferSize = body.EventBufferSize
	patch.MaxParallelUpdates = body.MaxParallelUpdates
	return patch, nil
}
