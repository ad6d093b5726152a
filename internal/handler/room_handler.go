package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"planning-poker/internal/domain"
	"planning-poker/internal/service"
	"planning-poker/internal/validation"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

// RoomHandler serves the polling endpoints
type RoomHandler struct {
	rooms  service.RoomService
	logger *logger.Logger
}

// NewRoomHandler creates a new room handler
func NewRoomHandler(rooms service.RoomService, logger *logger.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, logger: logger}
}

// GetRoom handles GET /api/room/{code}?pid=
// A pid heartbeats that participant before the snapshot is built.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code, err := validation.RoomCode(chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	if pid := r.URL.Query().Get("pid"); pid != "" {
		if err := h.rooms.Heartbeat(ctx, code, pid); err != nil {
			h.logger.WithError(err).WithField("room_code", code).Debug("Heartbeat ignored")
		}
	}

	room, err := h.rooms.GetRoom(ctx, code)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	snapshot := domain.NewSnapshot(room)
	etag := generateETag(snapshot)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	respondJSON(w, http.StatusOK, snapshot)
}

// Leave handles POST /api/room/{code}/leave?pid=
// Sent from page unload, so it never reports room errors back.
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("pid")
	if pid == "" {
		respondError(w, r, apperrors.NewValidationError("Participant ID required", nil), h.logger)
		return
	}

	code, err := validation.RoomCode(chi.URLParam(r, "code"))
	if err == nil {
		err = h.rooms.LeaveRoom(r.Context(), code, pid)
	}
	if err != nil {
		h.logger.WithError(err).WithField("participant_id", pid).Debug("Leave ignored")
	}

	w.WriteHeader(http.StatusNoContent)
}
