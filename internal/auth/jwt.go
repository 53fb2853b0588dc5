package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims holds the JWT payload of both session and operator tokens.
type Claims struct {
	jwt.RegisteredClaims
	SessionID  string `json:"sid,omitempty"`
	TaskID     string `json:"task,omitempty"`
	PlatformID string `json:"pf,omitempty"`
	CSRF       string `json:"csrf,omitempty"`
	TokenType  string `json:"typ"` // "session" or "operator"
}

const (
	tokenTypeSession  = "session"
	tokenTypeOperator = "operator"

	issuer  = "taskbridge"
	csrfLen = 16
)

// ErrInvalidToken is returned when a JWT cannot be parsed, has expired or is
// of the wrong type.
var ErrInvalidToken = errors.New("auth: invalid or expired token") //nolint:gochecknoglobals // sentinel error

// Session identifies one learner working on one task. Its token is the sToken
// handed to embedded task documents.
type Session struct {
	ID         uuid.UUID
	TaskID     string
	PlatformID string
}

// IssueSessionToken signs an sToken for s. The returned CSRF value is
// embedded in the token and must accompany save requests.
func IssueSessionToken(secret string, s Session, ttl time.Duration) (token, csrf string, err error) {
	raw := make([]byte, csrfLen)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth.IssueSessionToken: %w", err)
	}
	csrf = hex.EncodeToString(raw)

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		SessionID:  s.ID.String(),
		TaskID:     s.TaskID,
		PlatformID: s.PlatformID,
		CSRF:       csrf,
		TokenType:  tokenTypeSession,
	}

	token, err = sign(secret, claims)
	if err != nil {
		return "", "", fmt.Errorf("auth.IssueSessionToken: %w", err)
	}
	return token, csrf, nil
}

// IssueOperatorToken signs a bearer token for the operator API.
func IssueOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
		TokenType: tokenTypeOperator,
	}

	token, err := sign(secret, claims)
	if err != nil {
		return "", fmt.Errorf("auth.IssueOperatorToken: %w", err)
	}
	return token, nil
}

func sign(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateToken parses and validates a JWT token string. Returns the embedded claims.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	if !token.Valid {
		return nil, fmt.Errorf("auth.ValidateToken: %w", ErrInvalidToken)
	}

	return claims, nil
}

// ValidateSessionToken validates an sToken.
func ValidateSessionToken(secret, tokenString string) (*Claims, error) {
	return validateType(secret, tokenString, tokenTypeSession)
}

// ValidateOperatorToken validates an operator bearer token.
func ValidateOperatorToken(secret, tokenString string) (*Claims, error) {
	return validateType(secret, tokenString, tokenTypeOperator)
}

func validateType(secret, tokenString, typ string) (*Claims, error) {
	claims, err := ValidateToken(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != typ {
		return nil, fmt.Errorf("auth.ValidateToken: want %s token: %w", typ, ErrInvalidToken)
	}
	return claims, nil
}

// Session returns the session described by session-token claims.
func (c *Claims) Session() (Session, error) {
	id, err := uuid.Parse(c.SessionID)
	if err != nil {
		return Session{}, fmt.Errorf("auth.Claims.Session: %w", ErrInvalidToken)
	}
	return Session{ID: id, TaskID: c.TaskID, PlatformID: c.PlatformID}, nil
}
