// Package api serves phone checks over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/phone-checker/internal/auth"
	"github.com/HanTheDev/phone-checker/internal/checker"
	"github.com/HanTheDev/phone-checker/internal/models"
)

const (
	Version = "1.0.0"

	maxBatchNumbers     = 100
	defaultBatchWorkers = 3
	maxBatchWorkers     = 10
	maxBodyBytes        = 1 << 20
)

// Service is the checker surface exposed over HTTP.
type Service interface {
	Check(ctx context.Context, req checker.Request) (*models.CheckResponse, error)
	CheckMany(ctx context.Context, reqs []checker.Request, concurrency int) []checker.BatchItem
	Platforms() []models.Platform
	Stats() checker.Stats
	Health(ctx context.Context) checker.Health
}

type Handler struct {
	svc       Service
	keys      *auth.APIKeys
	jwtSecret string
	logger    *slog.Logger
}

func NewHandler(svc Service, keys *auth.APIKeys, jwtSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, keys: keys, jwtSecret: jwtSecret, logger: logger}
}

// RegisterRoutes mounts the public routes on router and the /v1 routes behind
// authMW.
func (h *Handler) RegisterRoutes(router *mux.Router, authMW *auth.Middleware) {
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.HandleFunc("/auth/token", h.Token).Methods("POST")

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(authMW.Middleware)
	v1.HandleFunc("/check", h.Check).Methods("POST")
	v1.HandleFunc("/check/batch", h.CheckBatch).Methods("POST")
	v1.HandleFunc("/platforms", h.Platforms).Methods("GET")
	v1.HandleFunc("/stats", h.Stats).Methods("GET")
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	keyID, ok := h.keys.Lookup(req.APIKey)
	if !ok {
		h.logger.Warn("token request with unknown api key")
		http.Error(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateToken(keyID, h.jwtSecret, auth.DefaultTokenTTL)
	if err != nil {
		h.logger.Error("token generation failed", "key_id", keyID, "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("token issued", "key_id", keyID)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type checkRequest struct {
	Phone        string   `json:"phone"`
	CountryCode  string   `json:"country_code"`
	Platforms    []string `json:"platforms"`
	ForceRefresh bool     `json:"force_refresh"`
	TimeoutMS    int      `json:"timeout_ms"`
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.Check(r.Context(), checker.Request{
		Phone:        req.Phone,
		CountryCode:  req.CountryCode,
		Platforms:    h.platforms(req.Platforms),
		ForceRefresh: req.ForceRefresh,
		Caller:       auth.CallerFromContext(r.Context()),
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		h.checkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type batchRequest struct {
	Numbers       []string `json:"numbers"`
	CountryCode   string   `json:"country_code"`
	Platforms     []string `json:"platforms"`
	ForceRefresh  bool     `json:"force_refresh"`
	TimeoutMS     int      `json:"timeout_ms"`
	MaxConcurrent int      `json:"max_concurrent"`
}

type batchResult struct {
	Phone    string                `json:"phone"`
	Response *models.CheckResponse `json:"response,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func (h *Handler) CheckBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Numbers) == 0 || len(req.Numbers) > maxBatchNumbers {
		http.Error(w, "numbers must hold between 1 and 100 entries", http.StatusBadRequest)
		return
	}

	workers := req.MaxConcurrent
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	if workers > maxBatchWorkers {
		workers = maxBatchWorkers
	}

	platforms := h.platforms(req.Platforms)
	caller := auth.CallerFromContext(r.Context())
	reqs := make([]checker.Request, len(req.Numbers))
	for i, n := range req.Numbers {
		reqs[i] = checker.Request{
			Phone:        n,
			CountryCode:  req.CountryCode,
			Platforms:    platforms,
			ForceRefresh: req.ForceRefresh,
			Caller:       caller,
			Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
		}
	}

	h.logger.Info("batch check", "caller", caller, "numbers", len(reqs), "workers", workers)
	start := time.Now()
	items := h.svc.CheckMany(r.Context(), reqs, workers)
	out := make([]batchResult, len(items))
	for i, item := range items {
		out[i] = batchResult{Phone: req.Numbers[i], Response: item.Response}
		if item.Err != nil {
			out[i].Error = item.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":       out,
		"total_time_ns": time.Since(start),
	})
}

func (h *Handler) Platforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"platforms": h.svc.Platforms()})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.svc.Health(r.Context())
	status := http.StatusOK
	if health.Status != checker.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":    health.Status,
		"cache":     health.Cache,
		"platforms": health.Platforms,
		"version":   Version,
	})
}

// platforms maps request names onto platforms; an empty list means every
// available platform.
func (h *Handler) platforms(names []string) []models.Platform {
	if len(names) == 0 {
		return h.svc.Platforms()
	}
	out := make([]models.Platform, 0, len(names))
	for _, n := range names {
		out = append(out, models.Platform(strings.ToLower(strings.TrimSpace(n))))
	}
	return out
}

func (h *Handler) checkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checker.ErrInvalidNumber), errors.Is(err, checker.ErrNoPlatforms):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
