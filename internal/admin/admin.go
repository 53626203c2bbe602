// Package admin serves cache and rate limit administration routes.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/phone-checker/internal/cache"
	"github.com/HanTheDev/phone-checker/internal/checker"
	"github.com/HanTheDev/phone-checker/internal/models"
	"github.com/HanTheDev/phone-checker/internal/ratelimit"
)

const defaultEntriesLimit = 100

// Service is the checker surface the admin routes act through.
type Service interface {
	InvalidateCache(ctx context.Context, phone, countryCode string, platform models.Platform) error
	ClearCache(ctx context.Context) error
}

// CacheInspector is the read side of cache.SmartCache.
type CacheInspector interface {
	Stats() cache.Stats
	Entries(limit int) []cache.EntryInfo
	Sweep(ctx context.Context) (int, error)
}

type AdminHandler struct {
	svc       Service
	cache     CacheInspector
	limiter   ratelimit.Limiter
	platforms []models.Platform
	logger    *slog.Logger
}

// NewAdminHandler builds the handler. inspector is nil when caching is disabled.
func NewAdminHandler(svc Service, inspector CacheInspector, limiter ratelimit.Limiter, platforms []models.Platform, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{svc: svc, cache: inspector, limiter: limiter, platforms: platforms, logger: logger}
}

// RegisterRoutes mounts the routes under /admin, wrapped in mw.
func (h *AdminHandler) RegisterRoutes(router *mux.Router, mw ...mux.MiddlewareFunc) {
	r := router.PathPrefix("/admin").Subrouter()
	r.Use(mw...)

	// Cache
	r.HandleFunc("/cache/stats", h.GetCacheStats).Methods("GET")
	r.HandleFunc("/cache/entries", h.ListCacheEntries).Methods("GET")
	r.HandleFunc("/cache/sweep", h.SweepCache).Methods("POST")
	r.HandleFunc("/cache/{phone}", h.InvalidateCache).Methods("DELETE")
	r.HandleFunc("/cache", h.ClearCache).Methods("DELETE")

	// Rate limits
	r.HandleFunc("/ratelimit", h.GetRateLimits).Methods("GET")
}

func (h *AdminHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	if !h.cacheEnabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *AdminHandler) ListCacheEntries(w http.ResponseWriter, r *http.Request) {
	if !h.cacheEnabled(w) {
		return
	}

	limit := defaultEntriesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": h.cache.Entries(limit),
	})
}

func (h *AdminHandler) SweepCache(w http.ResponseWriter, r *http.Request) {
	if !h.cacheEnabled(w) {
		return
	}

	removed, err := h.cache.Sweep(r.Context())
	if err != nil {
		h.logger.Warn("cache sweep incomplete", "removed", removed, "error", err)
		http.Error(w, "Failed to sweep cache", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phone"]
	q := r.URL.Query()
	platform := models.Platform(q.Get("platform"))

	err := h.svc.InvalidateCache(r.Context(), phone, q.Get("country_code"), platform)
	switch {
	case errors.Is(err, checker.ErrCacheDisabled):
		http.Error(w, "Cache is disabled", http.StatusNotFound)
		return
	case errors.Is(err, checker.ErrInvalidNumber):
		http.Error(w, "Invalid phone number", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("cache invalidation failed", "error", err)
		http.Error(w, "Failed to invalidate cache", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ClearCache(r.Context())
	switch {
	case errors.Is(err, checker.ErrCacheDisabled):
		http.Error(w, "Cache is disabled", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("cache clear failed", "error", err)
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}

	h.logger.Info("cache cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetRateLimits(w http.ResponseWriter, r *http.Request) {
	snapshots := make([]ratelimit.Snapshot, 0, len(h.platforms))
	for _, p := range h.platforms {
		snapshots = append(snapshots, h.limiter.Snapshot(r.Context(), p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"platforms": snapshots})
}

func (h *AdminHandler) cacheEnabled(w http.ResponseWriter) bool {
	if h.cache == nil {
		http.Error(w, "Cache is disabled", http.StatusNotFound)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
