// Package validation checks raw request input before it reaches the room service.
package validation

import (
	"strings"
	"unicode/utf8"

	"planning-poker/internal/domain"
	"planning-poker/internal/ident"
	apperrors "planning-poker/pkg/errors"
)

const (
	// MaxCodeLength bounds user-typed room codes
	MaxCodeLength = 10
	// MaxNameLength bounds participant, room and issue names
	MaxNameLength = 100
)

// RoomCode trims and upper-cases code and checks it is 1-10 letters or digits
func RoomCode(code string) (string, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return "", field("code", "Room code is required")
	}
	if len(code) > MaxCodeLength {
		return "", field("code", "Room code must be at most 10 characters")
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", field("code", "Room code must be letters and numbers only")
		}
	}
	return code, nil
}

// ParticipantID checks id is a UUID. fieldName is echoed in the error details.
func ParticipantID(fieldName, id string) error {
	if !ident.IsParticipantID(id) {
		return field(fieldName, "Invalid participant ID")
	}
	return nil
}

// Name trims an optional display name and bounds its length in characters
func Name(fieldName, name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", field(fieldName, "Name must be at most 100 characters")
	}
	return name, nil
}

// Vote normalizes v under policy
func Vote(policy domain.VotePolicy, v domain.Vote) (domain.Vote, error) {
	out, err := policy.Normalize(v)
	if err != nil {
		return domain.Vote{}, field("vote", err.Error())
	}
	return out, nil
}

func field(name, message string) *apperrors.AppError {
	return apperrors.NewValidationError(message, map[string]interface{}{"field": name})
}
