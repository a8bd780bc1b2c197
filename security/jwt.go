// Package security covers the gateway's identity surface: HMAC-signed JWT
// parsing and minting, and the resolved Principal that rides the request
// context. Token issuance normally happens in an external auth service; the
// minting path here exists for tests and local development.
package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

func (j *JWTService) GenerateToken(userID string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

// GeneratePrincipalToken signs a token carrying the full principal claim
// set: subject, email, org and level.
func (j *JWTService) GeneratePrincipalToken(p Principal, expiration time.Duration) (string, error) {
	now := time.Now()

	builder := jwt.NewBuilder().
		Subject(p.ID).
		IssuedAt(now).
		Expiration(now.Add(expiration))
	if p.Email != "" {
		builder = builder.Claim("email", p.Email)
	}
	if p.Org != "" {
		builder = builder.Claim("org", p.Org)
	}
	if p.Level > 0 {
		builder = builder.Claim("level", p.Level)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return string(signed), nil
}

func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return token, nil
}

// ParsePrincipal validates a token string and maps its claims onto a
// Principal.
func (j *JWTService) ParsePrincipal(tokenString string) (Principal, error) {
	token, err := j.ValidateToken(tokenString)
	if err != nil {
		return Anonymous, err
	}
	return FromToken(token), nil
}
