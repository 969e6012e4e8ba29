// Package auth - jwt.go handles JWT token creation, signing, and verification
// using a shared secret, including lazy secret initialization and claims parsing.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is the fixed gateway identity stamped into every issued token
	// and required on every validated one.
	Issuer = "apigateway.local"

	// TokenLifetime is the fixed validity window of an issued token. The
	// audience inside is a point-in-time snapshot of graph membership, so
	// role changes only take effect at the next login.
	TokenLifetime = 24 * time.Hour
)

var (
	// jwtSecret holds the validated JWT signing secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// Claims is the bearer token payload. Audience carries the qualified role
// strings (namespace::name) the holder was granted at issuance time.
type Claims struct {
	SubjectID string `json:"sub_id"`
	jwt.RegisteredClaims
}

// isDevMode checks if we're in development mode (duplicated here to avoid import cycle)
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateJWTSecret checks that the JWT secret is properly configured.
// In production, this will fail if GWY_JWT_SECRET is not set.
// In dev mode, it will generate a random secret and log a warning.
// Call this at application startup.
func ValidateJWTSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("GWY_JWT_SECRET")

		if secret == "" {
			if isDevMode() {
				jwtSecret = generateRandomSecret()
				log.Printf("WARNING: GWY_JWT_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Tokens will not survive restarts. Set GWY_JWT_SECRET for persistent sessions.")
			} else {
				jwtSecretErr = errors.New("SECURITY ERROR: GWY_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(secret) < 32 {
			log.Printf("WARNING: GWY_JWT_SECRET is shorter than recommended 32 characters. Consider using a longer secret.")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetJWTSecret retrieves the validated JWT secret.
// Panics if ValidateJWTSecret() hasn't been called or failed.
func GetJWTSecret() string {
	if jwtSecret == "" {
		if err := ValidateJWTSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateJWT creates a signed token for an authenticated user. The audience
// is the user's qualified role set resolved from membership edges at login.
func GenerateJWT(userID, username string, audience []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		SubjectID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   username,
			Audience:  jwt.ClaimStrings(audience),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenLifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(GetJWTSecret()))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateJWT parses a token and verifies its signature, issuer, and time
// claims. Audience is NOT checked here; callers that guard endpoints use
// ValidateJWTForScopes or ValidateJWTForScopePrefix.
func ValidateJWT(tokenString string) (*Claims, error) {
	secret := GetJWTSecret()

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(Issuer))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// ValidateJWTForScopes validates a token and requires its audience to
// intersect the supplied scope list. An empty scope list skips the audience
// check (any valid token passes).
func ValidateJWTForScopes(tokenString string, scopes []string) (*Claims, error) {
	claims, err := ValidateJWT(tokenString)
	if err != nil {
		return nil, err
	}
	if len(scopes) > 0 && !HasAnyScope(claims.Audience, scopes) {
		return nil, errors.New("token audience does not grant the required scope")
	}
	return claims, nil
}

// ValidateJWTForScopePrefix validates a token and requires at least one
// audience entry to start with one of the supplied prefixes. This protects
// namespace-scoped endpoints independently of service-level authorization.
func ValidateJWTForScopePrefix(tokenString string, prefixes []string) (*Claims, error) {
	claims, err := ValidateJWT(tokenString)
	if err != nil {
		return nil, err
	}
	if !HasScopePrefix(claims.Audience, prefixes) {
		return nil, errors.New("token audience does not carry the required role prefix")
	}
	return claims, nil
}
