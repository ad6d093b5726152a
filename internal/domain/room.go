package domain

import (
	"strings"
	"time"
)

// Role is fixed when a participant joins and never changes
type Role string

const (
	RoleFacilitator Role = "facilitator"
	RoleVoter       Role = "voter"
	RoleSpectator   Role = "spectator"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleFacilitator, RoleVoter, RoleSpectator:
		return true
	default:
		return false
	}
}

// CanVote reports whether a participant with this role may carry a vote
func (r Role) CanVote() bool {
	return r == RoleVoter
}

// CountsTowardQuorum reports whether the role is waited on before auto-reveal
func (r Role) CountsTowardQuorum() bool {
	return r == RoleVoter
}

// UsesVoterSlot reports whether joining with this role consumes room capacity
func (r Role) UsesVoterSlot() bool {
	return r == RoleVoter
}

// IsPrivileged reports whether the role controls reveal, reset, advance and end
func (r Role) IsPrivileged() bool {
	return r == RoleFacilitator
}

// Participant is a member of a room
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Role     Role   `json:"role"`
	HasVoted bool   `json:"hasVoted"`
	Vote     *Vote  `json:"vote,omitempty"`
}

// ClearVote drops the participant's vote for the current issue
func (p *Participant) ClearVote() {
	p.HasVoted = false
	p.Vote = nil
}

// Room is a single estimation session.
// CreatedAt is unix milliseconds, which is what browser clients expect.
type Room struct {
	Code             string        `json:"code"`
	Name             string        `json:"name,omitempty"`
	AllowIssueNames  bool          `json:"allowIssueNames"`
	CurrentIssueName string        `json:"currentIssueName,omitempty"`
	FacilitatorID    string        `json:"facilitatorId"`
	Participants     []Participant `json:"participants"`
	Revealed         bool          `json:"revealed"`
	CreatedAt        int64         `json:"createdAt"`
}

// NormalizeCode upper-cases a room code; every store lookup goes through it
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NewRoom builds a room whose only participant is its facilitator
func NewRoom(code, facilitatorID, facilitatorName, name string, allowIssueNames bool, now time.Time) *Room {
	return &Room{
		Code:            NormalizeCode(code),
		Name:            strings.TrimSpace(name),
		AllowIssueNames: allowIssueNames,
		FacilitatorID:   facilitatorID,
		Participants: []Participant{{
			ID:   facilitatorID,
			Name: facilitatorName,
			Role: RoleFacilitator,
		}},
		CreatedAt: now.UnixMilli(),
	}
}

// Clone returns a deep copy so stores never share memory with callers
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Participants = make([]Participant, len(r.Participants))
	for i, p := range r.Participants {
		if p.Vote != nil {
			v := *p.Vote
			p.Vote = &v
		}
		cp.Participants[i] = p
	}
	return &cp
}

// Participant finds a member by id
func (r *Room) Participant(id string) (*Participant, bool) {
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			return &r.Participants[i], true
		}
	}
	return nil, false
}

// HasParticipant reports whether id is a member
func (r *Room) HasParticipant(id string) bool {
	_, ok := r.Participant(id)
	return ok
}

// IsFacilitator is the room's only authorization check
func (r *Room) IsFacilitator(id string) bool {
	return id != "" && id == r.FacilitatorID
}

// VoterCount counts participants occupying a voter slot
func (r *Room) VoterCount() int {
	n := 0
	for _, p := range r.Participants {
		if p.Role.UsesVoterSlot() {
			n++
		}
	}
	return n
}

// AllVotersHaveSubmitted is vacuously true when the room has no voters
func (r *Room) AllVotersHaveSubmitted() bool {
	for _, p := range r.Participants {
		if p.Role.CountsTowardQuorum() && !p.HasVoted {
			return false
		}
	}
	return true
}

// ClearVotes drops every participant's vote for the current issue
func (r *Room) ClearVotes() {
	for i := range r.Participants {
		r.Participants[i].ClearVote()
	}
}

// SetIssueName trims name; an empty result clears the current issue
func (r *Room) SetIssueName(name string) {
	r.CurrentIssueName = strings.TrimSpace(name)
}

// AddParticipant appends a member, keeping join order
func (r *Room) AddParticipant(p Participant) {
	r.Participants = append(r.Participants, p)
}

// RemoveParticipant drops a member and reports whether it was present
func (r *Room) RemoveParticipant(id string) bool {
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// Viable reports whether the room may keep existing: it still has members
// and its facilitator has not left.
func (r *Room) Viable() bool {
	return len(r.Participants) > 0 && r.HasParticipant(r.FacilitatorID)
}
