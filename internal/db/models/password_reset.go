// password_reset.go defines the one-time password reset request record.
package models

import "time"

// PasswordResetRequest is a one-time credential reset token. It becomes
// permanently inert once Used is true or the current time passes ExpiresAt.
type PasswordResetRequest struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Used      bool      `db:"used" json:"used"`
	ExpiresAt int64     `db:"expires_at" json:"expires_at"` // epoch seconds
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Redeemable reports whether the request can still be used at the given time.
func (p *PasswordResetRequest) Redeemable(now time.Time) bool {
	return !p.Used && now.Unix() <= p.ExpiresAt
}
