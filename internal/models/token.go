package models

import "time"

// PasswordResetToken is a single-use recovery credential owned by one user.
type PasswordResetToken struct {
	ID        int64     `db:"id" json:"id"`
	Token     string    `db:"token" json:"token"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the token can no longer be used at now.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
