package handler

import (
	"context"
	"net/http"
	"time"

	"planning-poker/internal/repository"
	"planning-poker/pkg/logger"
)

const healthTimeout = 2 * time.Second

// HealthHandler handles health check requests
type HealthHandler struct {
	backend *repository.Backend
	version string
	logger  *logger.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(backend *repository.Backend, version string, logger *logger.Logger) *HealthHandler {
	return &HealthHandler{
		backend: backend,
		version: version,
		logger:  logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Service   string    `json:"service"`
	Store     string    `json:"store"`
	Error     string    `json:"error,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Service:   "planning-poker",
		Store:     h.backend.Name,
	}

	status := http.StatusOK
	if err := h.backend.Rooms.Health(ctx); err != nil {
		h.logger.WithError(err).WithField("store", h.backend.Name).Warn("Store health check failed")
		response.Status = "unhealthy"
		response.Error = "store unavailable"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, response)
}
