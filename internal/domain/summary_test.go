package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(r *Room, id string, v float64, u Unit) {
	p, _ := r.Participant(id)
	p.HasVoted = true
	p.Vote = &Vote{Value: v, Unit: u}
}

func TestSummarize_HiddenUntilRevealed(t *testing.T) {
	r := newTestRoom()
	vote(r, "v1", 3, UnitDays)

	s := Summarize(r)
	assert.Equal(t, 2, s.VoterCount)
	assert.Equal(t, 1, s.VotedCount)
	assert.Empty(t, s.Estimates)
}

func TestSummarize_PerUnitAggregates(t *testing.T) {
	r := newTestRoom()
	r.AddParticipant(Participant{ID: "v3", Role: RoleVoter})
	vote(r, "v1", 2, UnitDays)
	vote(r, "v2", 3, UnitDays)
	vote(r, "v3", 1, UnitWeeks)
	r.Revealed = true

	s := Summarize(r)
	require.Len(t, s.Estimates, 2)
	assert.Equal(t, UnitEstimate{Unit: UnitDays, Count: 2, Average: 2.5, Min: 2, Max: 3}, s.Estimates[0])
	assert.Equal(t, UnitEstimate{Unit: UnitWeeks, Count: 1, Average: 1, Min: 1, Max: 1}, s.Estimates[1])
}

func TestSnapshot_JSONShape(t *testing.T) {
	r := newTestRoom()
	data, err := json.Marshal(NewSnapshot(r))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "ABC234", decoded["code"])
	assert.Equal(t, "fac", decoded["facilitatorId"])
	assert.Equal(t, false, decoded["revealed"])
	assert.Contains(t, decoded, "participants")
	assert.Contains(t, decoded, "summary")
}
