package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"planning-poker/internal/domain"
	"planning-poker/internal/middleware"
	"planning-poker/internal/service"
	"planning-poker/internal/service/auth"
	"planning-poker/internal/validation"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

// ActionRequest is the union of all action bodies; each action reads its fields
type ActionRequest struct {
	Code            string       `json:"code"`
	FacilitatorName string       `json:"facilitatorName"`
	RoomName        string       `json:"roomName"`
	AllowIssueNames bool         `json:"allowIssueNames"`
	AsSpectator     bool         `json:"asSpectator"`
	Name            string       `json:"name"`
	ParticipantID   string       `json:"participantId"`
	FacilitatorID   string       `json:"facilitatorId"`
	Vote            *domain.Vote `json:"vote"`
	IssueName       *string      `json:"issueName"`
}

// ActionResponse carries whichever result fields the action produced
type ActionResponse struct {
	Room          *domain.Snapshot `json:"room,omitempty"`
	FacilitatorID string           `json:"facilitatorId,omitempty"`
	ParticipantID string           `json:"participantId,omitempty"`
	Token         string           `json:"token,omitempty"`
	Success       bool             `json:"success,omitempty"`
}

type actionFunc func(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error)

// ActionHandler dispatches POST /api/actions/{action} to the room service
type ActionHandler struct {
	rooms   service.RoomService
	tokens  *auth.TokenService
	logger  *logger.Logger
	actions map[string]actionFunc
}

// NewActionHandler creates a new action handler. tokens may be nil.
func NewActionHandler(rooms service.RoomService, tokens *auth.TokenService, logger *logger.Logger) *ActionHandler {
	h := &ActionHandler{
		rooms:  rooms,
		tokens: tokens,
		logger: logger,
	}
	h.actions = map[string]actionFunc{
		service.OpCreateRoom:      h.createRoom,
		service.OpJoinRoom:        h.joinRoom,
		service.OpSubmitVote:      h.submitVote,
		service.OpRevealVotes:     h.revealVotes,
		service.OpResetVotes:      h.resetVotes,
		service.OpNextIssue:       h.nextIssue,
		service.OpUpdateIssueName: h.updateIssueName,
		service.OpGetRoom:         h.getRoomState,
		service.OpEndRoom:         h.endPlanning,
	}
	return h
}

// Handle handles POST /api/actions/{action}
func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	action, ok := h.actions[name]
	if !ok {
		respondError(w, r, apperrors.NewNotFoundError("Unknown action"), h.logger)
		return
	}

	var req ActionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	resp, err := action(r.Context(), r, &req)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok && appErr.Op == "" {
			err = appErr.WithOp(name)
		}
		respondError(w, r, err, h.logger)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *ActionHandler) createRoom(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	facilitatorName, err := validation.Name("facilitatorName", req.FacilitatorName)
	if err != nil {
		return nil, err
	}
	roomName, err := validation.Name("roomName", req.RoomName)
	if err != nil {
		return nil, err
	}

	room, facilitatorID, err := h.rooms.CreateRoom(ctx, service.CreateRoomParams{
		FacilitatorName: facilitatorName,
		RoomName:        roomName,
		AllowIssueNames: req.AllowIssueNames,
	})
	if err != nil {
		return nil, err
	}

	token, err := h.tokens.Issue(room.Code, facilitatorID, domain.RoleFacilitator)
	if err != nil {
		return nil, err
	}
	return &ActionResponse{Room: snapshot(room), FacilitatorID: facilitatorID, Token: token}, nil
}

func (h *ActionHandler) joinRoom(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, err := validation.RoomCode(req.Code)
	if err != nil {
		return nil, err
	}
	name, err := validation.Name("name", req.Name)
	if err != nil {
		return nil, err
	}

	room, participantID, err := h.rooms.JoinRoom(ctx, code, req.AsSpectator, name)
	if err != nil {
		return nil, err
	}

	role := domain.RoleVoter
	if req.AsSpectator {
		role = domain.RoleSpectator
	}
	token, err := h.tokens.Issue(room.Code, participantID, role)
	if err != nil {
		return nil, err
	}
	return &ActionResponse{Room: snapshot(room), ParticipantID: participantID, Token: token}, nil
}

func (h *ActionHandler) submitVote(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, participantID, err := h.actor(r, req.Code, req.ParticipantID, "participantId")
	if err != nil {
		return nil, err
	}
	if req.Vote == nil {
		return nil, apperrors.NewValidationError("Vote is required", map[string]interface{}{"field": "vote"})
	}

	room, err := h.rooms.SubmitVote(ctx, code, participantID, *req.Vote)
	return roomResponse(room, err)
}

func (h *ActionHandler) revealVotes(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, facilitatorID, err := h.actor(r, req.Code, req.FacilitatorID, "facilitatorId")
	if err != nil {
		return nil, err
	}
	room, err := h.rooms.RevealVotes(ctx, code, facilitatorID)
	return roomResponse(room, err)
}

func (h *ActionHandler) resetVotes(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, facilitatorID, err := h.actor(r, req.Code, req.FacilitatorID, "facilitatorId")
	if err != nil {
		return nil, err
	}
	room, err := h.rooms.ResetVotes(ctx, code, facilitatorID)
	return roomResponse(room, err)
}

func (h *ActionHandler) nextIssue(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, facilitatorID, err := h.actor(r, req.Code, req.FacilitatorID, "facilitatorId")
	if err != nil {
		return nil, err
	}
	issueName, err := optionalName(req.IssueName)
	if err != nil {
		return nil, err
	}
	room, err := h.rooms.NextIssue(ctx, code, facilitatorID, issueName)
	return roomResponse(room, err)
}

func (h *ActionHandler) updateIssueName(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, facilitatorID, err := h.actor(r, req.Code, req.FacilitatorID, "facilitatorId")
	if err != nil {
		return nil, err
	}
	issueName, err := optionalName(req.IssueName)
	if err != nil {
		return nil, err
	}
	room, err := h.rooms.UpdateIssueName(ctx, code, facilitatorID, issueName)
	return roomResponse(room, err)
}

func (h *ActionHandler) getRoomState(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, err := validation.RoomCode(req.Code)
	if err != nil {
		return nil, err
	}
	room, err := h.rooms.GetRoom(ctx, code)
	return roomResponse(room, err)
}

func (h *ActionHandler) endPlanning(ctx context.Context, r *http.Request, req *ActionRequest) (*ActionResponse, error) {
	code, facilitatorID, err := h.actor(r, req.Code, req.FacilitatorID, "facilitatorId")
	if err != nil {
		return nil, err
	}
	if err := h.rooms.EndRoom(ctx, code, facilitatorID); err != nil {
		return nil, err
	}
	return &ActionResponse{Success: true}, nil
}

// actor validates the room code and the acting participant id. When the body
// omits the id, a bearer token issued for the same room supplies it.
func (h *ActionHandler) actor(r *http.Request, rawCode, id, fieldName string) (string, string, error) {
	code, err := validation.RoomCode(rawCode)
	if err != nil {
		return "", "", err
	}

	if id == "" {
		if claims, ok := middleware.ClaimsFromContext(r.Context()); ok && claims.RoomCode == code {
			id = claims.ParticipantID()
		}
	}
	if err := validation.ParticipantID(fieldName, id); err != nil {
		return "", "", err
	}
	return code, id, nil
}

func optionalName(name *string) (*string, error) {
	if name == nil {
		return nil, nil
	}
	trimmed, err := validation.Name("issueName", *name)
	if err != nil {
		return nil, err
	}
	return &trimmed, nil
}

func roomResponse(room *domain.Room, err error) (*ActionResponse, error) {
	if err != nil {
		return nil, err
	}
	return &ActionResponse{Room: snapshot(room)}, nil
}

func snapshot(room *domain.Room) *domain.Snapshot {
	s := domain.NewSnapshot(room)
	return &s
}
