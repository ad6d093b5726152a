package service

import (
	"context"
	"errors"
	"time"

	"planning-poker/internal/domain"
	"planning-poker/internal/ident"
	"planning-poker/internal/repository"
	"planning-poker/internal/validation"
	apperrors "planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

// Operation names reported in errors and logs
const (
	OpCreateRoom      = "createRoom"
	OpJoinRoom        = "joinRoom"
	OpSubmitVote      = "submitVote"
	OpRevealVotes     = "revealVotes"
	OpResetVotes      = "resetVotes"
	OpNextIssue       = "nextIssue"
	OpUpdateIssueName = "updateIssueName"
	OpEndRoom         = "endPlanning"
	OpGetRoom         = "getRoomState"
	OpHeartbeat       = "heartbeat"
	OpLeaveRoom       = "leaveRoom"
	OpPruneRoom       = "pruneRoom"
)

// Options tune the room service
type Options struct {
	// VoterCap is the number of voters a room admits; spectators are unlimited
	VoterCap int
	// StaleAfter is how long a participant may go unseen before eviction
	StaleAfter time.Duration
	// StoreTimeout bounds each operation's store work, lock wait included
	StoreTimeout time.Duration
	// ReadRetries is how many extra attempts reads make on store failure
	ReadRetries int
	// Policy bounds and quantizes votes
	Policy domain.VotePolicy
	// Clock defaults to time.Now
	Clock func() time.Time
	// IDs defaults to a crypto/rand generator
	IDs *ident.Generator
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		VoterCap:     7,
		StaleAfter:   30 * time.Second,
		StoreTimeout: 3 * time.Second,
		ReadRetries:  2,
		Policy:       domain.DefaultIntegerPolicy(),
	}
}

// outcome tells mutate what to do with the room after the change func ran
type outcome int

const (
	keepRoom outcome = iota
	saveRoom
	dropRoom
)

const readRetryBackoff = 50 * time.Millisecond

var errRoomNotFound = apperrors.NewNotFoundError("Room not found")

// roomService serializes every read-modify-write of a room through the
// backend's per-room lock.
type roomService struct {
	rooms    repository.RoomStore
	presence repository.PresenceTracker
	locks    repository.RoomLocker
	opts     Options
	now      func() time.Time
	ids      *ident.Generator
	logger   *logger.Logger
}

// NewRoomService creates a room service over the given backend
func NewRoomService(backend *repository.Backend, opts Options, log *logger.Logger) RoomService {
	defaults := DefaultOptions()
	if opts.VoterCap <= 0 {
		opts.VoterCap = defaults.VoterCap
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaults.StaleAfter
	}
	if opts.Policy == nil {
		opts.Policy = defaults.Policy
	}
	if opts.ReadRetries < 0 {
		opts.ReadRetries = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = ident.NewGenerator()
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &roomService{
		rooms:    backend.Rooms,
		presence: backend.Presence,
		locks:    backend.Locks,
		opts:     opts,
		now:      opts.Clock,
		ids:      opts.IDs,
		logger:   log.Named("room_service"),
	}
}

// CreateRoom opens a new room with the caller as facilitator
func (s *roomService) CreateRoom(ctx context.Context, params CreateRoomParams) (*domain.Room, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	facilitatorID := ident.ParticipantID()

	for {
		code, err := s.ids.UniqueRoomCode(ctx, s.rooms.Exists)
		if err != nil {
			return nil, "", s.fail(OpCreateRoom, "", facilitatorID, err)
		}

		room, err := s.createWithCode(ctx, code, facilitatorID, params)
		if err != nil {
			return nil, "", s.fail(OpCreateRoom, code, facilitatorID, err)
		}
		if room == nil {
			// another create won the code between the check and the lock
			continue
		}

		s.logger.ForRoom(OpCreateRoom, code, facilitatorID).Info("Room created")
		return room, facilitatorID, nil
	}
}

func (s *roomService) createWithCode(ctx context.Context, code, facilitatorID string, params CreateRoomParams) (*domain.Room, error) {
	ctx, unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return nil, err
	}
	defer unlock()

	taken, err := s.rooms.Exists(ctx, code)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, nil
	}

	room := domain.NewRoom(code, facilitatorID, params.FacilitatorName, params.RoomName, params.AllowIssueNames, s.now())
	if err := s.rooms.Put(ctx, code, room); err != nil {
		return nil, err
	}
	s.touch(ctx, code, facilitatorID)
	return room, nil
}

// JoinRoom adds a participant; voters are subject to the voter cap
func (s *roomService) JoinRoom(ctx context.Context, code string, asSpectator bool, name string) (*domain.Room, string, error) {
	participantID := ident.ParticipantID()
	role := domain.RoleVoter
	if asSpectator {
		role = domain.RoleSpectator
	}

	room, err := s.mutate(ctx, OpJoinRoom, code, participantID, func(room *domain.Room) (outcome, error) {
		if role.UsesVoterSlot() && room.VoterCount() >= s.opts.VoterCap {
			return keepRoom, apperrors.NewCapacityError("Room is full")
		}
		room.AddParticipant(domain.Participant{ID: participantID, Name: name, Role: role})
		return saveRoom, nil
	})
	if err != nil {
		return nil, "", err
	}
	return room, participantID, nil
}

// SubmitVote records a voter's estimate and auto-reveals on quorum
func (s *roomService) SubmitVote(ctx context.Context, code, participantID string, vote domain.Vote) (*domain.Room, error) {
	vote, err := validation.Vote(s.opts.Policy, vote)
	if err != nil {
		return nil, s.fail(OpSubmitVote, code, participantID, err)
	}

	return s.mutate(ctx, OpSubmitVote, code, participantID, func(room *domain.Room) (outcome, error) {
		if room.Revealed {
			return keepRoom, apperrors.NewConflictError("Votes already revealed")
		}
		p, ok := room.Participant(participantID)
		if !ok {
			return keepRoom, apperrors.NewNotFoundError("Participant not found")
		}
		if !p.Role.CanVote() {
			return keepRoom, apperrors.NewConflictError("Only voters can vote")
		}

		v := vote
		p.HasVoted = true
		p.Vote = &v

		if room.AllVotersHaveSubmitted() {
			room.Revealed = true
		}
		return saveRoom, nil
	})
}

// RevealVotes shows every vote; revealing twice changes nothing
func (s *roomService) RevealVotes(ctx context.Context, code, facilitatorID string) (*domain.Room, error) {
	return s.mutate(ctx, OpRevealVotes, code, facilitatorID, func(room *domain.Room) (outcome, error) {
		if !room.IsFacilitator(facilitatorID) {
			return keepRoom, apperrors.NewAuthorizationError("Only facilitator can reveal")
		}
		if room.Revealed {
			return keepRoom, nil
		}
		room.Revealed = true
		return saveRoom, nil
	})
}

// ResetVotes clears every vote and leaves the revealed flag alone
func (s *roomService) ResetVotes(ctx context.Context, code, facilitatorID string) (*domain.Room, error) {
	return s.mutate(ctx, OpResetVotes, code, facilitatorID, func(room *domain.Room) (outcome, error) {
		if !room.IsFacilitator(facilitatorID) {
			return keepRoom, apperrors.NewAuthorizationError("Only facilitator can reset votes")
		}
		room.ClearVotes()
		return saveRoom, nil
	})
}

// NextIssue starts a fresh round. The issue name only changes when the
// room allows naming and a name was supplied.
func (s *roomService) NextIssue(ctx context.Context, code, facilitatorID string, issueName *string) (*domain.Room, error) {
	return s.mutate(ctx, OpNextIssue, code, facilitatorID, func(room *domain.Room) (outcome, error) {
		if !room.IsFacilitator(facilitatorID) {
			return keepRoom, apperrors.NewAuthorizationError("Only facilitator can start next round")
		}
		room.Revealed = false
		room.ClearVotes()
		if room.AllowIssueNames && issueName != nil {
			room.SetIssueName(*issueName)
		}
		return saveRoom, nil
	})
}

// UpdateIssueName renames the current issue; nil or blank clears it
func (s *roomService) UpdateIssueName(ctx context.Context, code, facilitatorID string, issueName *string) (*domain.Room, error) {
	return s.mutate(ctx, OpUpdateIssueName, code, facilitatorID, func(room *domain.Room) (outcome, error) {
		if !room.IsFacilitator(facilitatorID) {
			return keepRoom, apperrors.NewAuthorizationError("Only facilitator can update issue name")
		}
		if !room.AllowIssueNames {
			return keepRoom, apperrors.NewConflictError("Issue naming is not enabled for this room")
		}
		name := ""
		if issueName != nil {
			name = *issueName
		}
		room.SetIssueName(name)
		return saveRoom, nil
	})
}

// EndRoom deletes the room and its presence records
func (s *roomService) EndRoom(ctx context.Context, code, facilitatorID string) error {
	_, err := s.mutate(ctx, OpEndRoom, code, "", func(room *domain.Room) (outcome, error) {
		if !room.IsFacilitator(facilitatorID) {
			return keepRoom, apperrors.NewAuthorizationError("Only facilitator can end planning")
		}
		return dropRoom, nil
	})
	return err
}

// GetRoom reads without the lock when every participant has a fresh presence
// record. Otherwise it takes the lock and re-reads before pruning or seeding,
// so neither a concurrent mutation nor a concurrent delete is overwritten
// with stale data.
func (s *roomService) GetRoom(ctx context.Context, code string) (*domain.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	code = domain.NormalizeCode(code)

	room, seen, err := s.readRoom(ctx, code)
	if err != nil {
		return nil, s.fail(OpGetRoom, code, "", err)
	}
	if room == nil {
		return nil, errRoomNotFound.WithOp(OpGetRoom)
	}

	stale, unseen := s.classify(room, seen, s.now())
	if len(stale) == 0 && len(unseen) == 0 && room.Viable() {
		return room, nil
	}

	room, _, err = s.pruneLocked(ctx, code)
	if err != nil {
		return nil, s.fail(OpGetRoom, code, "", err)
	}
	if room == nil {
		return nil, errRoomNotFound.WithOp(OpGetRoom)
	}
	return room, nil
}

// Heartbeat refreshes a member's last-seen time. Membership is checked under
// the room lock so a room ended meanwhile is not given presence again.
func (s *roomService) Heartbeat(ctx context.Context, code, participantID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	code = domain.NormalizeCode(code)

	ctx, unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return s.fail(OpHeartbeat, code, participantID, err)
	}
	defer unlock()

	room, err := s.rooms.Get(ctx, code)
	if err != nil {
		return s.fail(OpHeartbeat, code, participantID, err)
	}
	if room == nil {
		return errRoomNotFound.WithOp(OpHeartbeat)
	}
	if !room.HasParticipant(participantID) {
		return apperrors.NewNotFoundError("Participant not found").WithOp(OpHeartbeat)
	}
	if err := s.presence.Touch(ctx, code, participantID, s.now()); err != nil {
		return s.fail(OpHeartbeat, code, participantID, err)
	}
	return nil
}

// LeaveRoom removes a participant; the room goes with its facilitator or last member
func (s *roomService) LeaveRoom(ctx context.Context, code, participantID string) error {
	_, err := s.mutate(ctx, OpLeaveRoom, code, "", func(room *domain.Room) (outcome, error) {
		if !room.RemoveParticipant(participantID) {
			return keepRoom, nil
		}
		if !room.Viable() {
			return dropRoom, nil
		}
		return saveRoom, nil
	})
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.presence.Remove(ctx, domain.NormalizeCode(code), participantID); err != nil {
		s.logger.WithError(err).WithField("room_code", code).Warn("Failed to remove presence on leave")
	}
	return nil
}

// PruneRoom evicts stale participants under the lock. A code whose record is
// already gone counts as removed and its leftovers are cleaned up.
func (s *roomService) PruneRoom(ctx context.Context, code string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	code = domain.NormalizeCode(code)

	room, removed, err := s.pruneLocked(ctx, code)
	if err != nil {
		return false, s.fail(OpPruneRoom, code, "", err)
	}
	return removed || room == nil, nil
}

// mutate runs change against the current room while holding its lock.
// change works on a private copy; nothing is written unless it returns
// saveRoom or dropRoom without error.
func (s *roomService) mutate(ctx context.Context, op, code, actorID string, change func(room *domain.Room) (outcome, error)) (*domain.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	code = domain.NormalizeCode(code)

	ctx, unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return nil, s.fail(op, code, actorID, err)
	}
	defer unlock()

	room, err := s.rooms.Get(ctx, code)
	if err != nil {
		return nil, s.fail(op, code, actorID, err)
	}
	if room == nil {
		return nil, s.fail(op, code, actorID, errRoomNotFound)
	}

	next := room.Clone()
	result, err := change(next)
	if err != nil {
		if actorID != "" && room.HasParticipant(actorID) {
			s.touch(ctx, code, actorID)
		}
		return nil, s.fail(op, code, actorID, err)
	}

	switch result {
	case saveRoom:
		if err := s.rooms.Put(ctx, code, next); err != nil {
			return nil, s.fail(op, code, actorID, err)
		}
	case dropRoom:
		if err := s.drop(ctx, code); err != nil {
			return nil, s.fail(op, code, actorID, err)
		}
	case keepRoom:
	}

	// the actor is seen only while still a member of the stored room
	if result != dropRoom && actorID != "" && next.HasParticipant(actorID) {
		s.touch(ctx, code, actorID)
	}

	s.logger.ForRoom(op, code, actorID).Debug("Room updated")
	return next, nil
}

// pruneLocked takes the room lock, reloads, evicts stale participants and
// seeds unseen ones. Returns nil when the room no longer exists.
func (s *roomService) pruneLocked(ctx context.Context, code string) (*domain.Room, bool, error) {
	ctx, unlock, err := s.locks.Lock(ctx, code)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	room, err := s.rooms.Get(ctx, code)
	if err != nil {
		return nil, false, err
	}
	if room == nil {
		// the index may still list an expired code
		if err := s.drop(ctx, code); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	seen, err := s.presence.LastSeen(ctx, code)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	stale, unseen := s.classify(room, seen, now)
	for _, id := range stale {
		room.RemoveParticipant(id)
	}

	if !room.Viable() {
		if err := s.drop(ctx, code); err != nil {
			return nil, false, err
		}
		s.logger.WithFields(map[string]interface{}{
			"room_code": code,
			"evicted":   len(stale),
		}).Info("Room deleted after presence pruning")
		return nil, true, nil
	}

	if len(stale) > 0 {
		if err := s.rooms.Put(ctx, code, room); err != nil {
			return nil, false, err
		}
		if err := s.presence.Remove(ctx, code, stale...); err != nil {
			s.logger.WithError(err).WithField("room_code", code).Warn("Failed to remove stale presence")
		}
		s.logger.WithFields(map[string]interface{}{
			"room_code": code,
			"evicted":   stale,
		}).Info("Evicted stale participants")
	}

	for _, id := range unseen {
		s.touchAt(ctx, code, id, now)
	}
	return room, false, nil
}

// classify splits participants into those unseen for longer than StaleAfter
// and those with no presence record at all
func (s *roomService) classify(room *domain.Room, seen map[string]time.Time, now time.Time) (stale, unseen []string) {
	for _, p := range room.Participants {
		at, ok := seen[p.ID]
		switch {
		case !ok:
			unseen = append(unseen, p.ID)
		case now.Sub(at) > s.opts.StaleAfter:
			stale = append(stale, p.ID)
		}
	}
	return stale, unseen
}

// readRoom fetches the room and its presence, retrying store failures
func (s *roomService) readRoom(ctx context.Context, code string) (*domain.Room, map[string]time.Time, error) {
	var (
		room *domain.Room
		seen map[string]time.Time
		err  error
	)
	for attempt := 0; attempt <= s.opts.ReadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, err
			case <-time.After(readRetryBackoff * time.Duration(attempt)):
			}
		}

		room, err = s.rooms.Get(ctx, code)
		if err != nil {
			continue
		}
		if room == nil {
			return nil, nil, nil
		}
		seen, err = s.presence.LastSeen(ctx, code)
		if err != nil {
			continue
		}
		return room, seen, nil
	}
	return nil, nil, err
}

func (s *roomService) drop(ctx context.Context, code string) error {
	if err := s.rooms.Delete(ctx, code); err != nil {
		return err
	}
	if err := s.presence.Clear(ctx, code); err != nil {
		s.logger.WithError(err).WithField("room_code", code).Warn("Failed to clear presence")
	}
	return nil
}

func (s *roomService) touch(ctx context.Context, code, participantID string) {
	s.touchAt(ctx, code, participantID, s.now())
}

// touchAt records presence. Failures are logged, not returned: a missed
// heartbeat is repaired by the next one.
func (s *roomService) touchAt(ctx context.Context, code, participantID string, at time.Time) {
	if err := s.presence.Touch(ctx, code, participantID, at); err != nil {
		s.logger.ForRoom("", code, participantID).WithError(err).Warn("Failed to record presence")
	}
}

func (s *roomService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// fail tags err with op. Anything that is not already an AppError came from
// the store and is reported as transient.
func (s *roomService) fail(op, code, participantID string, err error) error {
	appErr, ok := apperrors.As(err)
	switch {
	case ok:
		appErr = appErr.WithOp(op)
	case errors.Is(err, context.DeadlineExceeded):
		appErr = apperrors.NewTransientError("Room is busy, please retry", err).WithOp(op)
	default:
		appErr = apperrors.NewTransientError("Room store unavailable", err).WithOp(op)
	}

	log := s.logger.ForRoom(op, code, participantID).WithField("error_type", appErr.Type)
	if appErr.Type == apperrors.ErrorTypeTransient {
		log.WithError(err).Warn("Room operation failed")
	} else {
		log.Debug("Room operation rejected: " + appErr.Message)
	}
	return appErr
}
