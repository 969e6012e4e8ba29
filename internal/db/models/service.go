// service.go defines the Service model: a registered backend reachable through
// the forwarder under /<api_name>/<version>/.
package models

import "time"

// Service is a registered backend API. Unique on (APIName, Version); only
// active services resolve on the forwarding path.
type Service struct {
	ID          string    `db:"id" json:"id"`
	APIName     string    `db:"api_name" json:"api_name"`
	Version     string    `db:"version" json:"version"`
	ForwardURL  string    `db:"forward_url" json:"forward_url"`
	Active      bool      `db:"active" json:"active"`
	Environment string    `db:"environment" json:"environment"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ServiceWithRoles pairs a service with its full authorized-role set — the
// roles holding an authorization edge to it, resolved in a single join.
type ServiceWithRoles struct {
	Service
	Roles []Role `json:"roles"`
}

// ServicePatch carries a partial service update. Nil fields are left
// untouched; Roles and RoleNamespaces, when present, replace the service's
// authorization edges via reconciliation.
type ServicePatch struct {
	APIName        *string   `json:"api_name"`
	Version        *string   `json:"version"`
	ForwardURL     *string   `json:"forward_url"`
	Active         *bool     `json:"active"`
	Environment    *string   `json:"environment"`
	Roles          []RoleRef `json:"roles"`
	RoleNamespaces []string  `json:"role_namespaces"`
}

// HasFieldChanges reports whether the patch touches any scalar column (as
// opposed to only the role edge set).
func (p *ServicePatch) HasFieldChanges() bool {
	return p.APIName != nil || p.Version != nil || p.ForwardURL != nil ||
		p.Active != nil || p.Environment != nil
}

// HasRoleChanges reports whether the patch includes a desired role set.
func (p *ServicePatch) HasRoleChanges() bool {
	return p.Roles != nil || p.RoleNamespaces != nil
}
