package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"quota-service/internal/ratelimit"
)

// AdminHandler exposes operational endpoints for the quota engine: per
// identifier resets and the metrics snapshot.
type AdminHandler struct {
	engine *ratelimit.Engine
	logger *zap.Logger
}

func NewAdminHandler(engine *ratelimit.Engine, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, logger: logger}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RegisterRoutes mounts the admin endpoints.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/rate-limits", func(r chi.Router) {
		r.Post("/{identifier}/reset", h.ResetIdentifier)
		r.Get("/metrics", h.GetMetrics)
		r.Post("/metrics/reset", h.ResetMetrics)
	})
}

// ResetIdentifier clears shared and local quota state for one identifier.
func (h *AdminHandler) ResetIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	if identifier == "" {
		h.respond(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "identifier is required",
		})
		return
	}

	reset, err := h.engine.Reset(r.Context(), identifier)
	if err != nil {
		h.logger.Error("quota reset failed",
			zap.String("identifier", identifier),
			zap.Error(err))
		h.respond(w, http.StatusBadGateway, Response{
			Success: false,
			Error:   "failed to reset quota",
			Data:    map[string]interface{}{"identifier": identifier, "reset": reset},
		})
		return
	}

	h.respond(w, http.StatusOK, Response{
		Success: true,
		Message: "quota reset",
		Data:    map[string]interface{}{"identifier": identifier, "reset": reset},
	})
}

// GetMetrics returns the counters plus shared-store occupancy when healthy.
func (h *AdminHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, Response{
		Success: true,
		Data:    h.engine.Stats(r.Context()),
	})
}

// ResetMetrics zeroes the counters.
func (h *AdminHandler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetMetrics()
	h.logger.Info("rate limit metrics reset by admin")
	h.respond(w, http.StatusOK, Response{
		Success: true,
		Message: "metrics reset",
	})
}

func (h *AdminHandler) respond(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
