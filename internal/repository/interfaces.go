package repository

import (
	"context"
	"time"

	"planning-poker/internal/domain"
)

// RoomStore holds whole room records keyed by upper-cased code.
// Writes overwrite the full record; callers serialize read-modify-write
// cycles through a RoomLocker.
type RoomStore interface {
	// Get returns the room, or nil without error when it does not exist
	Get(ctx context.Context, code string) (*domain.Room, error)

	// Put overwrites the room stored under code
	Put(ctx context.Context, code string, room *domain.Room) error

	// Delete removes the room; deleting a missing room is not an error
	Delete(ctx context.Context, code string) error

	// Exists reports whether a room is stored under code
	Exists(ctx context.Context, code string) (bool, error)

	// Codes lists every live room code, for cleanup
	Codes(ctx context.Context) ([]string, error)

	// Health checks the backing store
	Health(ctx context.Context) error
}

// PresenceTracker records when each participant of a room was last seen
type PresenceTracker interface {
	// Touch records participantID as seen at the given time
	Touch(ctx context.Context, code, participantID string, at time.Time) error

	// LastSeen returns every recorded participant of the room
	LastSeen(ctx context.Context, code string) (map[string]time.Time, error)

	// Remove forgets the given participants
	Remove(ctx context.Context, code string, participantIDs ...string) error

	// Clear forgets the whole room
	Clear(ctx context.Context, code string) error
}

// RoomLocker provides mutual exclusion per room code
type RoomLocker interface {
	// Lock blocks until the room is held or ctx is done. Store and presence
	// calls made while holding the lock must use the returned context, which
	// may carry the session that owns the lock.
	// The returned unlock func must be called exactly once.
	Lock(ctx context.Context, code string) (locked context.Context, unlock func(), err error)
}

// Backend bundles the three capabilities a room coordinator needs
type Backend struct {
	Name     string
	Rooms    RoomStore
	Presence PresenceTracker
	Locks    RoomLocker
}
