package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planning-poker/internal/domain"
	"planning-poker/pkg/errors"
	"planning-poker/pkg/logger"
)

const issuer = "planning-poker"

// Claims identify one participant of one room. The subject is the participant id.
type Claims struct {
	RoomCode string      `json:"room"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// ParticipantID returns the token subject
func (c *Claims) ParticipantID() string {
	return c.Subject
}

// TokenService signs and verifies participant tokens.
// A token only carries an identifier; the room service still checks it.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *logger.Logger
}

// NewTokenService creates a token service. Returns nil when secret is empty,
// which disables tokens.
func NewTokenService(secret string, ttl time.Duration, log *logger.Logger) *TokenService {
	if secret == "" {
		return nil
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		logger: log.Named("token_service"),
	}
}

// Enabled reports whether tokens are issued. Safe on a nil receiver.
func (s *TokenService) Enabled() bool {
	return s != nil
}

// Issue signs a token for participantID in room code
func (s *TokenService) Issue(code, participantID string, role domain.Role) (string, error) {
	if !s.Enabled() {
		return "", nil
	}

	now := s.now()
	claims := Claims{
		RoomCode: domain.NormalizeCode(code),
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   participantID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.NewInternalError("Failed to sign participant token", err)
	}
	return signed, nil
}

// Parse verifies a token's signature, issuer and expiry
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, errors.NewAuthenticationError("Participant tokens are not enabled")
	}
	if !isJWTToken(tokenString) {
		return nil, errors.NewAuthenticationError("Invalid participant token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		s.logger.WithError(err).Debug("Rejected participant token")
		return nil, errors.NewAuthenticationError("Invalid participant token")
	}

	if claims.Subject == "" || claims.RoomCode == "" {
		return nil, errors.NewAuthenticationError("Invalid participant token")
	}
	return claims, nil
}

func isJWTToken(token string) bool {
	// JWT tokens have exactly 3 segments separated by dots
	if token == "" {
		return false
	}

	dotCount := 0
	for _, char := range token {
		if char == '.' {
			dotCount++
		}
	}
	return dotCount == 2
}
