// Package models defines the gateway's persisted data model: API services,
// roles, the graph edges connecting them to services and users, gateway users,
// and password reset requests.
package models

import "time"

const (
	// RoleNamespaceDelimiter joins a role's namespace and name into its
	// qualified string form, e.g. "billing::writer".
	RoleNamespaceDelimiter = "::"

	// NamespaceMemberRole is the reserved role name sentinel. A role whose
	// Name equals this value is not a concrete permission: it marks "member
	// of this namespace" and only participates in wildcard authorization.
	NamespaceMemberRole = "__ROLE_NAMESPACE_MEMBER__"
)

// Role is a namespaced permission. Unique on (Namespace, Name), enforced by a
// database index so duplicate creation fails rather than silently duplicating.
type Role struct {
	ID        string    `db:"id" json:"id"`
	Namespace string    `db:"namespace" json:"namespace"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Qualified renders the role as its namespace::name string, the form stored
// in token audiences and compared by the authorization engine.
func (r *Role) Qualified() string {
	return r.Namespace + RoleNamespaceDelimiter + r.Name
}

// IsNamespaceMember reports whether the role is a namespace-wildcard sentinel
// rather than a concrete permission.
func (r *Role) IsNamespaceMember() bool {
	return r.Name == NamespaceMemberRole
}

// RoleRef identifies a role in a request body: either an existing id, or a
// (namespace, name) pair to be resolved — and created if absent — during
// reconciliation.
type RoleRef struct {
	ID        string `json:"id,omitempty"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}
