package auth

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMain(m *testing.M) {
	os.Setenv("GWY_JWT_SECRET", "test-auth-jwt-secret-that-is-32c!")
	os.Exit(m.Run())
}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("user-1", "alice", []string{"billing::writer", "gateway::admin"})
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims.Issuer != Issuer {
		t.Errorf("issuer = %s, want %s", claims.Issuer, Issuer)
	}
	if claims.Subject != "alice" || claims.SubjectID != "user-1" {
		t.Errorf("subject = %s/%s, want alice/user-1", claims.Subject, claims.SubjectID)
	}
	if len(claims.Audience) != 2 || claims.Audience[0] != "billing::writer" {
		t.Errorf("audience = %v", claims.Audience)
	}

	lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if lifetime != TokenLifetime {
		t.Errorf("lifetime = %v, want %v", lifetime, TokenLifetime)
	}
}

func TestValidateJWT_Garbage(t *testing.T) {
	if _, err := ValidateJWT("not-a-token"); err == nil {
		t.Error("expected error for garbage token")
	}
}

func TestValidateJWT_WrongIssuer(t *testing.T) {
	claims := &Claims{
		SubjectID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ValidateJWT(signed); err == nil {
		t.Error("expected error for foreign issuer")
	}
}

func TestValidateJWT_WrongSigningMethod(t *testing.T) {
	// alg=none tokens must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:  Issuer,
		Subject: "alice",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := ValidateJWT(signed); err == nil {
		t.Error("expected error for alg=none token")
	}
}

func TestValidateJWT_Expired(t *testing.T) {
	now := time.Now().Add(-2 * TokenLifetime)
	claims := &Claims{
		SubjectID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	_, err = ValidateJWT(signed)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Errorf("error = %v, want an expiry failure", err)
	}
}

func TestValidateJWTForScopes(t *testing.T) {
	token, err := GenerateJWT("user-1", "alice", []string{"gateway::services-readonly"})
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	if _, err := ValidateJWTForScopes(token, []string{ScopeAdmin, ScopeServicesReadonly}); err != nil {
		t.Errorf("intersecting scope list should pass: %v", err)
	}
	if _, err := ValidateJWTForScopes(token, []string{ScopeAdmin}); err == nil {
		t.Error("disjoint scope list should fail")
	}
	// An empty scope list means any valid token.
	if _, err := ValidateJWTForScopes(token, nil); err != nil {
		t.Errorf("empty scope list should pass: %v", err)
	}
}

func TestValidateJWTForScopePrefix(t *testing.T) {
	token, err := GenerateJWT("user-1", "alice", []string{"billing::writer"})
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	if _, err := ValidateJWTForScopePrefix(token, []string{"billing::"}); err != nil {
		t.Errorf("matching prefix should pass: %v", err)
	}
	if _, err := ValidateJWTForScopePrefix(token, []string{"orders::"}); err == nil {
		t.Error("non-matching prefix should fail")
	}
}
