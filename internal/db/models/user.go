// user.go defines the gateway user account model and its role membership view.
package models

import "time"

// User is a gateway account. The password hash never serializes to JSON.
type User struct {
	ID              string     `db:"id" json:"id"`
	Username        string     `db:"username" json:"username"`
	PasswordHash    string     `db:"password_hash" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	LastLogin       *time.Time `db:"last_login" json:"last_login,omitempty"`
	PasswordResetAt *time.Time `db:"password_reset_at" json:"password_reset_at,omitempty"`
}

// UserWithRoles pairs a user with the roles holding a membership edge to it.
type UserWithRoles struct {
	User
	Roles []Role `json:"roles"`
}

// QualifiedRoles returns the user's roles rendered as namespace::name strings,
// the form embedded in a token's audience at login.
func (u *UserWithRoles) QualifiedRoles() []string {
	qualified := make([]string, 0, len(u.Roles))
	for i := range u.Roles {
		qualified = append(qualified, u.Roles[i].Qualified())
	}
	return qualified
}

// UserPatch carries a partial user update. A non-nil Roles slice replaces the
// user's membership edges via reconciliation.
type UserPatch struct {
	Username *string   `json:"username"`
	Roles    []RoleRef `json:"roles"`
}
