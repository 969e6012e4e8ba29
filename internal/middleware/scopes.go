// scopes.go implements scope guards for the management surface. A scope is a
// qualified role string carried in the token audience; the admin scope
// gateway::admin passes every guard.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/apigateway/apigateway/internal/auth"
	"github.com/apigateway/apigateway/internal/gwerrors"
)

// RequireScope allows the request through when the token audience contains
// the admin scope or any of the listed scopes. Must run after AuthMiddleware.
func RequireScope(scopes ...string) gin.HandlerFunc {
	required := append([]string{auth.ScopeAdmin}, scopes...)
	return func(c *gin.Context) {
		audience := AudienceFromContext(c)
		if audience == nil {
			gwerrors.Abort(c, gwerrors.Forbidden("no roles granted"))
			return
		}
		if !auth.HasAnyScope(audience, required) {
			gwerrors.Abort(c, gwerrors.Forbidden("missing required role"))
			return
		}
		c.Next()
	}
}

// RequireScopePrefix allows the request through when the token audience
// contains the admin scope or any entry starting with one of the prefixes.
func RequireScopePrefix(prefixes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		audience := AudienceFromContext(c)
		if audience == nil {
			gwerrors.Abort(c, gwerrors.Forbidden("no roles granted"))
			return
		}
		if !auth.HasAnyScope(audience, []string{auth.ScopeAdmin}) &&
			!auth.HasScopePrefix(audience, prefixes) {
			gwerrors.Abort(c, gwerrors.Forbidden("missing required role"))
			return
		}
		c.Next()
	}
}
