package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planning-poker/internal/domain"
	apperrors "planning-poker/pkg/errors"
)

func TestRoomCode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "uppercases", input: "abc234", want: "ABC234"},
		{name: "trims", input: "  xyz9 ", want: "XYZ9"},
		{name: "single char", input: "a", want: "A"},
		{name: "ten chars", input: "abcdefghij", want: "ABCDEFGHIJ"},
		{name: "empty", input: "  ", wantErr: "Room code is required"},
		{name: "too long", input: "abcdefghijk", wantErr: "Room code must be at most 10 characters"},
		{name: "punctuation", input: "ab-12", wantErr: "Room code must be letters and numbers only"},
		{name: "unicode", input: "äbc", wantErr: "Room code must be letters and numbers only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoomCode(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				appErr, ok := apperrors.As(err)
				require.True(t, ok)
				assert.Equal(t, apperrors.ErrorTypeValidation, appErr.Type)
				assert.Equal(t, tt.wantErr, appErr.Message)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParticipantID(t *testing.T) {
	assert.NoError(t, ParticipantID("participantId", uuid.NewString()))

	err := ParticipantID("facilitatorId", "nope")
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Invalid participant ID", appErr.Message)
	assert.Equal(t, "facilitatorId", appErr.Details["field"])

	assert.Error(t, ParticipantID("participantId", ""))
}

func TestName(t *testing.T) {
	got, err := Name("name", "  Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got)

	got, err = Name("name", strings.Repeat("é", MaxNameLength))
	require.NoError(t, err)
	assert.Len(t, []rune(got), MaxNameLength)

	_, err = Name("name", strings.Repeat("a", MaxNameLength+1))
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestVote(t *testing.T) {
	policy := domain.DefaultIntegerPolicy()

	v, err := Vote(policy, domain.Vote{Value: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.Vote{Value: 5, Unit: domain.UnitDays}, v)

	_, err = Vote(policy, domain.Vote{Value: 1000, Unit: domain.UnitDays})
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "Value must be 999 or less", appErr.Message)
}
