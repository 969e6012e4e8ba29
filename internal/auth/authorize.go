// authorize.go implements the role-based authorization decision on the
// forwarding path: given a service's authorized-role set and a caller's token
// audience, is the call permitted?
package auth

import (
	"strings"

	"github.com/apigateway/apigateway/internal/db/models"
)

// Authorize decides whether a claim audience grants access to a service with
// the given authorized roles. Two ways to match, checked in order:
//
//  1. Exact: some service role, rendered as namespace::name, is literally
//     present in the audience.
//  2. Namespace wildcard: the service carries a namespace-member sentinel
//     role, and some audience entry belongs to that namespace (starts with
//     "namespace::"). A caller holding blanket namespace membership reaches
//     every service in that namespace without each concrete role.
//
// Both sets are caller- and admin-controlled, so the check is map-based and
// runs in O(|serviceRoles| + |audience|). A false result maps to 403 at the
// boundary; the response never reveals which role would have matched.
func Authorize(serviceRoles []models.Role, audience []string) bool {
	if len(serviceRoles) == 0 || len(audience) == 0 {
		return false
	}

	qualified := make(map[string]struct{}, len(serviceRoles))
	wildcardNS := make(map[string]struct{})
	for i := range serviceRoles {
		role := &serviceRoles[i]
		qualified[role.Qualified()] = struct{}{}
		if role.IsNamespaceMember() {
			wildcardNS[role.Namespace] = struct{}{}
		}
	}

	for _, aud := range audience {
		if _, ok := qualified[aud]; ok {
			return true
		}
	}

	if len(wildcardNS) == 0 {
		return false
	}
	for _, aud := range audience {
		ns, _, found := strings.Cut(aud, models.RoleNamespaceDelimiter)
		if !found {
			continue
		}
		if _, ok := wildcardNS[ns]; ok {
			return true
		}
	}

	return false
}
