// Package auth provides JWT bearer-token issuance and validation for
// the wallet/AML HTTP surface.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrMissingToken = errors.New("missing authorization token")
)

// RoleAdmin is the role claim value granting access to admin-only
// routes (AML endpoints, cross-player wallet operations).
const RoleAdmin = "admin"

// Claims is the bearer-token payload: sub is the player_id, Role is
// empty for an ordinary player token or RoleAdmin for an operator token.
type Claims struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token carries the admin role.
func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// ContextKey namespaces values this package stores on a request context.
type ContextKey string

const UserContextKey ContextKey = "auth_claims"

// Issuer mints and validates bearer tokens against a configured secret
// and signing algorithm.
type Issuer struct {
	secret []byte
	issuer string
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewIssuer constructs an Issuer. secret, issuer, algorithm, and ttl
// are sourced from internal/config, never hardcoded. Only HMAC
// algorithms are supported; an unknown algorithm falls back to HS256.
func NewIssuer(secret []byte, issuer, algorithm string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	return &Issuer{secret: secret, issuer: issuer, method: method, ttl: ttl}
}

// GenerateToken issues a bearer token for playerID, optionally carrying
// the admin role.
func (iss *Issuer) GenerateToken(playerID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		PlayerID: playerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss.issuer,
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.ttl)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(iss.method, claims)
	return token.SignedString(iss.secret)
}

// ValidateToken verifies and parses a bearer token.
func (iss *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != iss.method.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return iss.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware validates the bearer token and injects claims into the
// request context.
func (iss *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"success":false,"error":"missing authorization token","code":"invalid_credentials"}`, http.StatusUnauthorized)
			return
		}

		claims, err := iss.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"success":false,"error":"invalid or expired token","code":"invalid_credentials"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose claims lack the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims == nil || !claims.IsAdmin() {
			http.Error(w, `{"success":false,"error":"admin role required","code":"player_id_mismatch"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("params")
}

// GetUserFromContext extracts bearer-token claims from a request context.
func GetUserFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}
