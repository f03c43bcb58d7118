package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims defines the custom claims for the JWT.
type Claims struct {
	UserID     int64  `json:"user_id"`
	Role       string `json:"role"`
	TenantName string `json:"tenant_name,omitempty"`
	TenantID   *int64 `json:"tenant_id,omitempty"` // legacy
	jwt.RegisteredClaims
}

// Identity converts verified claims into a domain identity.
func (c *Claims) Identity() (domain.Identity, error) {
	if c.UserID <= 0 {
		return domain.Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidClaims)
	}
	role, err := domain.ParseRole(c.Role)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidClaims, err)
	}

	var tenant domain.TenantRef
	if c.TenantName != "" {
		tenant = domain.TenantByName(c.TenantName)
	}
	if c.TenantID != nil {
		tenant = tenant.WithID(*c.TenantID)
	}
	return domain.Identity{UserID: c.UserID, Role: role, Tenant: tenant}, nil
}

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Verifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

// Verify parses and validates a JWT string and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (domain.Identity, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.Identity{}, ErrInvalidToken
	}
	return claims.Identity()
}

// Issue creates a signed token for an identity. Used by tooling and tests.
func Issue(id domain.Identity, secret, issuer string, expiry time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: id.UserID,
		Role:   string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if name, ok := id.Tenant.Name(); ok {
		claims.TenantName = name
	}
	if tid, ok := id.Tenant.ID(); ok {
		claims.TenantID = &tid
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
