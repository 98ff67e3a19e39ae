package governance

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/inferguard/internal/api"
	"github.com/aiox-platform/inferguard/internal/auth"
	"github.com/aiox-platform/inferguard/internal/cache"
	"github.com/aiox-platform/inferguard/internal/governance/quota"
	inats "github.com/aiox-platform/inferguard/internal/nats"
)

// InvalidationPublisher announces admin cache invalidations.
type InvalidationPublisher interface {
	PublishCacheInvalidation(ctx context.Context, event inats.CacheInvalidationEvent) error
}

// Handler provides HTTP handlers for governance endpoints.
type Handler struct {
	tracker   *quota.Tracker
	admission *quota.Admission
	cache     cache.Cache
	mirror    *quota.HistoryMirror
	events    InvalidationPublisher
	validate  *validator.Validate
}

// NewHandler creates a new governance Handler. mirror and events may be nil.
func NewHandler(tracker *quota.Tracker, admission *quota.Admission, c cache.Cache, mirror *quota.HistoryMirror, events InvalidationPublisher) *Handler {
	return &Handler{
		tracker:   tracker,
		admission: admission,
		cache:     c,
		mirror:    mirror,
		events:    events,
		validate:  validator.New(),
	}
}

// GetQuota returns the current quota usage.
func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.tracker.Stats())
}

// ListUsage returns recent usage records from the in-process history or,
// with ?source=mirror, from the Redis mirror.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	params := usageParams{Source: r.URL.Query().Get("source"), Limit: 100}
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid limit"))
			return
		}
		params.Limit = v
	}
	if err := h.validate.Struct(params); err != nil {
		api.HandleError(w, api.NewValidationError(err))
		return
	}

	if params.Source == UsageSourceMirror {
		if h.mirror == nil {
			api.HandleError(w, api.NewNotFoundError("usage mirror not configured"))
			return
		}
		records, err := h.mirror.Recent(r.Context(), params.Limit)
		if err != nil {
			slog.Error("reading usage mirror", "error", err)
			api.HandleError(w, api.ErrServiceUnavailable)
			return
		}
		api.JSON(w, http.StatusOK, UsageResponse{Source: UsageSourceMirror, Records: records})
		return
	}

	records := h.tracker.History()
	if len(records) > params.Limit {
		records = records[len(records)-params.Limit:]
	}
	api.JSON(w, http.StatusOK, UsageResponse{Source: UsageSourceMemory, Records: records})
}

// CheckAdmission reports the admission decision for ?priority=N without
// issuing a call.
func (h *Handler) CheckAdmission(w http.ResponseWriter, r *http.Request) {
	priority, err := strconv.Atoi(r.URL.Query().Get("priority"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("priority must be an integer between 1 and 10"))
		return
	}

	api.JSON(w, http.StatusOK, h.admission.Decide(priority))
}

// InvalidateCache clears the whole response cache.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		slog.Error("invalidating cache", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("cache invalidated", "scope", "all", "actor", actor(r))
	h.announce(r, inats.CacheInvalidationEvent{Scope: "all"})
	api.JSON(w, http.StatusOK, InvalidationResult{Scope: "all"})
}

// InvalidateCacheScope drops every cache entry whose key contains {token},
// typically a persona or configuration id that was edited or deleted.
func (h *Handler) InvalidateCacheScope(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.validate.Var(token, "required,min=2,max=128"); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid scope token"))
		return
	}

	removed, err := h.cache.InvalidateScope(r.Context(), token)
	if err != nil {
		slog.Error("invalidating cache scope", "token", token, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("cache invalidated", "scope", "token", "token", token, "removed", removed, "actor", actor(r))
	h.announce(r, inats.CacheInvalidationEvent{Scope: "token", Token: token, Removed: removed})
	api.JSON(w, http.StatusOK, InvalidationResult{Scope: "token", Token: token, Removed: &removed})
}

func (h *Handler) announce(r *http.Request, event inats.CacheInvalidationEvent) {
	if h.events == nil {
		return
	}
	event.Actor = actor(r)
	if err := h.events.PublishCacheInvalidation(r.Context(), event); err != nil {
		slog.Warn("publishing cache invalidation", "error", err)
	}
}

func actor(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
