// Package auth verifies the bearer tokens the upstream identity provider
// issues, and carries the resulting identity through the request context.
//
// WHO SIGNS THE TOKENS?
// Wallet login happens elsewhere. After it succeeds, the identity provider
// signs a short-lived JWT with the secret it shares with this service:
//
//	{"sub": "<user id>", "role": "user", "iss": "waste-rewards", "exp": ...}
//
// Internal callers (the report-ingestion pipeline, admin tooling) get tokens
// with role "service". The ledger never checks a password or a signature
// from a wallet; it only trusts this one secret.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//
// The server verifies the signature without any DB lookup, just the secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	Issuer = "waste-rewards"

	// DefaultTokenTTL is the lifetime Generate gives a token.
	DefaultTokenTTL = 15 * time.Minute
)

// Role is what a token holder is allowed to do.
type Role string

const (
	// RoleUser may act on its own ledger only.
	RoleUser Role = "user"
	// RoleService may act on any user and grant arbitrary awards.
	RoleService Role = "service"
)

func (r Role) valid() bool {
	return r == RoleUser || r == RoleService
}

// Identity is the verified content of a token.
type Identity struct {
	UserID string
	Role   Role
}

// CanActFor reports whether the identity may read or change userID's ledger.
func (id Identity) CanActFor(userID string) bool {
	return id.Role == RoleService || (id.UserID != "" && id.UserID == userID)
}

// TokenService handles JWT creation and validation with one HMAC secret.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload: the registered claims plus our role.
type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Generate signs a token valid for DefaultTokenTTL. The service itself only
// validates tokens; Generate exists for tooling and tests.
func (s *TokenService) Generate(userID string, role Role) (string, error) {
	return s.GenerateWithDuration(userID, role, DefaultTokenTTL)
}

// GenerateWithDuration signs a token with a custom lifetime.
func (s *TokenService) GenerateWithDuration(userID string, role Role, d time.Duration) (string, error) {
	if !role.valid() {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	now := time.Now()

	c := claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired, and has an expiry at all
//   - Issuer matches "waste-rewards"
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// Then ours: a subject must be present and the role must be known.
func (s *TokenService) Validate(tokenStr string) (Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("auth: token expired")
		}
		return Identity{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Identity{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token has no subject")
	}
	if !c.Role.valid() {
		return Identity{}, fmt.Errorf("auth: token has unknown role %q", c.Role)
	}

	return Identity{UserID: c.Subject, Role: c.Role}, nil
}
