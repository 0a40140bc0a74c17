package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-auth-server/internal/model"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Codec signs and verifies one kind of token (access or refresh) with its
// own secret. Access and refresh codecs must be constructed with different
// secrets so a leaked access secret cannot forge refresh tokens.
type Codec struct {
	secret    []byte
	tokenType string
	ttl       time.Duration
	now       func() time.Time
}

func NewCodec(secret string, tokenType string, ttl time.Duration) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if tokenType != TypeAccess && tokenType != TypeRefresh {
		return nil, errors.New("token type must be access or refresh")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	return &Codec{
		secret:    []byte(secret),
		tokenType: tokenType,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// WithClock overrides the codec's clock. Used by tests to cross expiry
// boundaries without sleeping.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	clone := *c
	clone.now = now
	return &clone
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(identity model.Identity) (string, error) {
	now := c.now()
	claims := Claims{
		Email: identity.Email,
		Type:  c.tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			// Unique per token so two issues inside the same second still
			// produce distinct token strings.
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

func (c *Codec) Verify(tokenString string) (model.Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)

	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return model.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return model.Identity{}, ErrInvalidToken
	}
	if claims.Type != c.tokenType {
		return model.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return model.Identity{}, ErrInvalidToken
	}

	return model.Identity{UserID: claims.Subject, Email: claims.Email}, nil
}
