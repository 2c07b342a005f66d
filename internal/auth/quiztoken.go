package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// QuizClaims are the signed claims attached to a browser's quiz token after a
// successful authentication callback. The websocket attach verifies them so a
// connection can only drive its own session.
type QuizClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

var ErrInvalidQuizToken = errors.New("invalid quiz token")

// MintQuizToken signs a session-scoped token with the configured secret.
func MintQuizToken(secret, sessionID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("quiz token secret not configured")
	}
	claims := QuizClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "soundcheck",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign quiz token: %w", err)
	}
	return signed, nil
}

// VerifyQuizToken parses and validates a quiz token, returning its session ID.
func VerifyQuizToken(secret, raw string) (string, error) {
	claims := &QuizClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidQuizToken
	}
	if claims.SessionID == "" {
		return "", ErrInvalidQuizToken
	}
	return claims.SessionID, nil
}
