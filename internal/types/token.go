package types

import (
	"time"
)

// ValidatedToken holds the claims returned by the identity provider.
// Cached under a one-way hash of the raw token, never the token itself.
type ValidatedToken struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token's own lifetime has passed
func (t *ValidatedToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// RemainingLifetime returns the time until the token expires; zero or
// negative means it is already expired.
func (t *ValidatedToken) RemainingLifetime(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}
