// Package auth - scopes.go defines the gateway's administrative scope strings
// and the set-intersection helpers used by the middleware guards.
//
// A scope is simply a qualified role (namespace::name) carried in a token's
// audience. The gateway's own management endpoints live in the reserved
// "gateway" namespace; backend services define their own namespaces and are
// checked by the authorization engine in authorize.go instead.
package auth

import "strings"

const (
	// ScopeAdmin grants full access to the /cfg management surface.
	ScopeAdmin = "gateway::admin"

	// ScopeServicesReadonly grants read access to service and role records.
	ScopeServicesReadonly = "gateway::services-readonly"

	// ScopeUserReadonly grants read access to user records.
	ScopeUserReadonly = "gateway::user-readonly"
)

// HasAnyScope reports whether the audience contains at least one of the
// required scopes. Set-based so it stays linear in both inputs.
func HasAnyScope(audience []string, scopes []string) bool {
	if len(scopes) == 0 {
		return false
	}
	granted := make(map[string]struct{}, len(audience))
	for _, aud := range audience {
		granted[aud] = struct{}{}
	}
	for _, scope := range scopes {
		if _, ok := granted[scope]; ok {
			return true
		}
	}
	return false
}

// HasScopePrefix reports whether any audience entry starts with one of the
// given prefixes.
func HasScopePrefix(audience []string, prefixes []string) bool {
	for _, aud := range audience {
		for _, prefix := range prefixes {
			if strings.HasPrefix(aud, prefix) {
				return true
			}
		}
	}
	return false
}
