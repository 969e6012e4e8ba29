// Package middleware provides Gin HTTP middleware for authentication, scope
// authorization, security headers, request identifiers, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → Auth → Scope guard → Handler
//
// Security headers run first so they appear on all responses including errors.
// Auth populates the token claims and audience; the scope guards read from
// that context. The default-route forwarder does its own token check because
// the required roles depend on which service the path resolves to.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/gwerrors"
)

const (
	// ClaimsKey is the gin.Context key holding the validated *auth.Claims.
	ClaimsKey = "claims"

	// UserIDKey is the gin.Context key holding the token subject's user id.
	UserIDKey = "user_id"

	// UsernameKey is the gin.Context key holding the token subject's username.
	UsernameKey = "username"

	// AudienceKey is the gin.Context key holding the token's qualified role
	// strings.
	AudienceKey = "audience"
)

// BearerToken extracts the token from an Authorization: Bearer header. The
// scheme matches case-insensitively per RFC 7235. Returns an empty string
// when the header is missing or malformed.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// AuthMiddleware validates the bearer token and stores its claims in the
// context. No scope check happens here; pair it with RequireScope or
// RequireScopePrefix on guarded route groups.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			gwerrors.Abort(c, gwerrors.Unauthorized("missing bearer token"))
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			gwerrors.Abort(c, gwerrors.TokenDecode(err))
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ClaimsKey, claims)
	c.Set(UserIDKey, claims.SubjectID)
	c.Set(UsernameKey, claims.Subject)
	c.Set(AudienceKey, []string(claims.Audience))
}

// ClaimsFromContext retrieves the claims stored by AuthMiddleware.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	val, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := val.(*auth.Claims)
	return claims, ok
}

// AudienceFromContext retrieves the audience stored by AuthMiddleware.
func AudienceFromContext(c *gin.Context) []string {
	val, exists := c.Get(AudienceKey)
	if !exists {
		return nil
	}
	audience, _ := val.([]string)
	return audience
}
