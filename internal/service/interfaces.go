package service

import (
	"context"

	"planning-poker/internal/domain"
)

// CreateRoomParams are the inputs of RoomService.CreateRoom
type CreateRoomParams struct {
	FacilitatorName string
	RoomName        string
	AllowIssueNames bool
}

// RoomService coordinates every read and write of room state
type RoomService interface {
	// CreateRoom opens a room whose only participant is the caller, returned as facilitator id
	CreateRoom(ctx context.Context, params CreateRoomParams) (*domain.Room, string, error)

	// JoinRoom adds a voter, or a spectator when asSpectator is set, and returns the new id
	JoinRoom(ctx context.Context, code string, asSpectator bool, name string) (*domain.Room, string, error)

	// SubmitVote records a voter's estimate; the room reveals once every voter has voted
	SubmitVote(ctx context.Context, code, participantID string, vote domain.Vote) (*domain.Room, error)

	// RevealVotes shows every vote. Facilitator only.
	RevealVotes(ctx context.Context, code, facilitatorID string) (*domain.Room, error)

	// ResetVotes clears votes without changing the revealed flag. Facilitator only.
	ResetVotes(ctx context.Context, code, facilitatorID string) (*domain.Room, error)

	// NextIssue hides and clears votes and optionally renames the issue. Facilitator only.
	NextIssue(ctx context.Context, code, facilitatorID string, issueName *string) (*domain.Room, error)

	// UpdateIssueName renames the current issue. Facilitator only.
	UpdateIssueName(ctx context.Context, code, facilitatorID string, issueName *string) (*domain.Room, error)

	// EndRoom deletes the room. Facilitator only.
	EndRoom(ctx context.Context, code, facilitatorID string) error

	// GetRoom returns the room after evicting participants that stopped polling
	GetRoom(ctx context.Context, code string) (*domain.Room, error)

	// Heartbeat marks a member as alive
	Heartbeat(ctx context.Context, code, participantID string) error

	// LeaveRoom removes a participant immediately
	LeaveRoom(ctx context.Context, code, participantID string) error

	// PruneRoom evicts stale participants and reports whether the room was deleted
	PruneRoom(ctx context.Context, code string) (bool, error)
}

// Sweeper periodically prunes every live room
type Sweeper interface {
	// Start begins the sweep loop
	Start(ctx context.Context) error

	// Stop ends the sweep loop and waits for an in-flight sweep
	Stop(ctx context.Context) error

	// SweepOnce prunes every room once and returns how many were deleted
	SweepOnce(ctx context.Context) (int, error)
}
