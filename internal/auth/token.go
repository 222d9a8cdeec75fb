// Package auth signs and verifies portal bearer tokens and carries the
// caller's identity through a request context. Token roles only label the
// caller for clients; authority comes from a Resolver.
package auth

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "levra"

	// SecretEnv names the variable holding the HS256 signing key.
	SecretEnv = "PORTAL_AUTH_SECRET"

	// MaxTTL caps the lifetime of any token the portal issues or accepts.
	MaxTTL = 30 * 24 * time.Hour

	clockSkew = 5 * time.Second

	RoleAdmin  = "admin"
	RoleClient = "client"
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")

	errMissingSecret = errors.New("auth secret is not configured")

	secretMu sync.Mutex
	secretFn = secretLoader()
)

// Claims are the JWT claims of a portal token.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Token is a signed bearer token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// GenerateToken signs an HS256 token for userID. Unknown roles are dropped.
func GenerateToken(userID string, roles []string, ttl time.Duration) (Token, error) {
	userID = strings.TrimSpace(userID)
	switch {
	case userID == "":
		return Token{}, errors.New("userID is required")
	case ttl <= 0 || ttl > MaxTTL:
		return Token{}, fmt.Errorf("ttl must be in (0, %s]", MaxTTL)
	}
	key, err := signingKey()
	if err != nil {
		return Token{}, err
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Roles: NormalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// ParseAndValidate verifies the signature, issuer and lifetime of token.
// Every failure collapses to ErrInvalidToken.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if err := checkClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Roles = NormalizeRoles(claims.Roles)
	return claims, nil
}

// checkClaims covers what the jwt parser does not: a subject, an issued-at
// and a lifetime within MaxTTL.
func checkClaims(c *Claims) error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return errors.New("timestamps missing")
	}
	if life := c.ExpiresAt.Sub(c.IssuedAt.Time); life <= 0 || life > MaxTTL {
		return fmt.Errorf("lifetime %s out of range", life)
	}
	return nil
}

// NormalizeRoles lower-cases roles, keeps only admin and client and removes
// duplicates, preserving first-seen order.
func NormalizeRoles(roles []string) []string {
	var out []string
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role != RoleAdmin && role != RoleClient {
			continue
		}
		if !slices.Contains(out, role) {
			out = append(out, role)
		}
	}
	return out
}

func secretLoader() func() ([]byte, error) {
	return sync.OnceValues(func() ([]byte, error) {
		raw := strings.TrimSpace(os.Getenv(SecretEnv))
		if raw == "" {
			return nil, errMissingSecret
		}
		return []byte(raw), nil
	})
}

func signingKey() ([]byte, error) {
	secretMu.Lock()
	load := secretFn
	secretMu.Unlock()
	return load()
}

// ResetSecretForTests forgets the cached key so the next call re-reads the
// environment.
func ResetSecretForTests() {
	secretMu.Lock()
	secretFn = secretLoader()
	secretMu.Unlock()
}
