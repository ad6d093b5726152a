// Package ident produces room codes and participant identifiers.
package ident

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// CodeAlphabet omits 0/O and 1/I so codes survive being read aloud.
// Its length (32) divides 256, so byte%32 is unbiased.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a room code
const CodeLength = 6

// ExistsFunc reports whether a code is already taken
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator draws random room codes from a byte source
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorFrom uses r as the randomness source (tests pass a fixed stream)
func NewGeneratorFrom(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// RoomCode draws one candidate code
func (g *Generator) RoomCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = CodeAlphabet[int(b)%len(CodeAlphabet)]
	}
	return string(buf), nil
}

// UniqueRoomCode redraws until exists reports a free code.
// The keyspace is 32^6, so the loop is bounded in practice; ctx bounds it otherwise.
func (g *Generator) UniqueRoomCode(ctx context.Context, exists ExistsFunc) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.RoomCode()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check room code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
}

// ParticipantID returns a random UUID. Collisions are not checked.
func ParticipantID() string {
	return uuid.NewString()
}

// IsParticipantID reports whether s parses as a UUID
func IsParticipantID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
