package ident

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCode_Alphabet(t *testing.T) {
	g := NewGenerator()

	for i := 0; i < 200; i++ {
		code, err := g.RoomCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, c := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, c), "unexpected char %q in %s", c, code)
		}
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
	}
}

func TestRoomCode_Deterministic(t *testing.T) {
	// byte i maps to CodeAlphabet[i%32]
	g := NewGeneratorFrom(bytes.NewReader([]byte{0, 1, 2, 32, 33, 255}))
	code, err := g.RoomCode()
	require.NoError(t, err)
	assert.Equal(t, "ABCAB9", code)
}

func TestRoomCode_ShortSource(t *testing.T) {
	g := NewGeneratorFrom(bytes.NewReader([]byte{1, 2}))
	_, err := g.RoomCode()
	assert.Error(t, err)
}

func TestUniqueRoomCode_RetriesOnCollision(t *testing.T) {
	stream := append(bytes.Repeat([]byte{0}, CodeLength), bytes.Repeat([]byte{1}, CodeLength)...)
	g := NewGeneratorFrom(bytes.NewReader(stream))

	var tried []string
	code, err := g.UniqueRoomCode(context.Background(), func(_ context.Context, c string) (bool, error) {
		tried = append(tried, c)
		return c == "AAAAAA", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", code)
	assert.Equal(t, []string{"AAAAAA", "BBBBBB"}, tried)
}

func TestUniqueRoomCode_StopsOnError(t *testing.T) {
	g := NewGenerator()
	boom := errors.New("store down")

	_, err := g.UniqueRoomCode(context.Background(), func(context.Context, string) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestUniqueRoomCode_RespectsContext(t *testing.T) {
	g := NewGenerator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.UniqueRoomCode(ctx, func(context.Context, string) (bool, error) {
		return true, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParticipantID(t *testing.T) {
	a, b := ParticipantID(), ParticipantID()
	assert.NotEqual(t, a, b)
	assert.True(t, IsParticipantID(a))
	assert.False(t, IsParticipantID("not-a-uuid"))
	assert.False(t, IsParticipantID(""))
}
