package domain

import "math"

// UnitEstimate aggregates the revealed votes of one unit
type UnitEstimate struct {
	Unit    Unit    `json:"unit"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Summary is derived from a room on every read and never stored
type Summary struct {
	VoterCount int            `json:"voterCount"`
	VotedCount int            `json:"votedCount"`
	Estimates  []UnitEstimate `json:"estimates,omitempty"`
}

// Snapshot is what clients receive: the room plus its derived summary
type Snapshot struct {
	*Room
	Summary Summary `json:"summary"`
}

// NewSnapshot wraps a room for display
func NewSnapshot(r *Room) Snapshot {
	return Snapshot{Room: r, Summary: Summarize(r)}
}

// Summarize counts votes and, once revealed, aggregates them per unit
func Summarize(r *Room) Summary {
	s := Summary{}
	byUnit := map[Unit]*UnitEstimate{}
	var order []Unit

	for _, p := range r.Participants {
		if !p.Role.CountsTowardQuorum() {
			continue
		}
		s.VoterCount++
		if !p.HasVoted || p.Vote == nil {
			continue
		}
		s.VotedCount++
		if !r.Revealed {
			continue
		}

		e, ok := byUnit[p.Vote.Unit]
		if !ok {
			e = &UnitEstimate{Unit: p.Vote.Unit, Min: p.Vote.Value, Max: p.Vote.Value}
			byUnit[p.Vote.Unit] = e
			order = append(order, p.Vote.Unit)
		}
		e.Count++
		e.Average += p.Vote.Value
		e.Min = math.Min(e.Min, p.Vote.Value)
		e.Max = math.Max(e.Max, p.Vote.Value)
	}

	for _, u := range order {
		e := byUnit[u]
		e.Average = math.Round(e.Average/float64(e.Count)*100) / 100
		s.Estimates = append(s.Estimates, *e)
	}
	return s
}
