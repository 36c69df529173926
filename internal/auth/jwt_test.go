package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testIssuer(ttl time.Duration) *Issuer {
	return NewIssuer([]byte("test-signing-key"), "test", "HS256", ttl)
}

func TestGenerateValidate_RoundTrip(t *testing.T) {
	iss := testIssuer(time.Hour)

	token, err := iss.GenerateToken("p1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := iss.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.PlayerID != "p1" || claims.Subject != "p1" {
		t.Errorf("expected sub=player_id=p1, got %+v", claims)
	}
	if claims.IsAdmin() {
		t.Errorf("a roleless token must not be admin")
	}
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	token, err := testIssuer(time.Hour).GenerateToken("p1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	other := NewIssuer([]byte("a-different-secret"), "test", "HS256", time.Hour)
	if _, err := other.ValidateToken(token); err == nil {
		t.Errorf("expected validation to fail against a different secret")
	}
}

func TestValidateToken_RejectsExpired(t *testing.T) {
	// NewIssuer normalizes a non-positive TTL, so build the expired
	// issuer directly.
	iss := &Issuer{secret: []byte("test-signing-key"), issuer: "test", method: jwt.SigningMethodHS256, ttl: -time.Minute}
	token, err := iss.GenerateToken("p1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := iss.ValidateToken(token); err == nil {
		t.Errorf("expected validation to fail for an expired token")
	}
}

func TestValidateToken_RejectsMismatchedAlgorithm(t *testing.T) {
	hs384 := NewIssuer([]byte("test-signing-key"), "test", "HS384", time.Hour)
	token, err := hs384.GenerateToken("p1", "")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	hs256 := testIssuer(time.Hour)
	if _, err := hs256.ValidateToken(token); err == nil {
		t.Errorf("expected a token signed with a different algorithm to be rejected")
	}
}

func TestClaims_AdminRole(t *testing.T) {
	iss := testIssuer(time.Hour)
	token, err := iss.GenerateToken("ops1", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := iss.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !claims.IsAdmin() {
		t.Errorf("expected admin role to survive the round trip")
	}
}

func TestBearerToken_HeaderAndQueryFallback(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/balance", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(r); got != "abc123" {
		t.Errorf("expected header token, got %q", got)
	}

	r = httptest.NewRequest("POST", "/api/balance?params=qtok", nil)
	if got := bearerToken(r); got != "qtok" {
		t.Errorf("expected params query fallback, got %q", got)
	}
}
