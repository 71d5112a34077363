package models

import "time"

// SessionEntry is the Session Cache value: the one live refresh token per
// identity, referenced by its jti.
type SessionEntry struct {
	IdentityID string    `json:"identityId"`
	TokenID    string    `json:"tokenId"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the entry outlived its refresh token.
func (e SessionEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// TTL returns the remaining lifetime, never less than one second so stores
// with second-granularity expiry accept it.
func (e SessionEntry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}
