package models

import "time"

// Identity is the opaque user reference exposed outside the Token Issuer.
type Identity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CredentialRecord is the row stored in the identities table. It never
// leaves the server and is never serialised.
type CredentialRecord struct {
	IdentityID    string    `db:"id" json:"-"`
	Email         string    `db:"email" json:"-"`
	PasswordHash  string    `db:"password_hash" json:"-"`
	PasswordSalt  string    `db:"password_salt" json:"-"`
	EmailVerified bool      `db:"email_verified" json:"-"`
	CreatedAt     time.Time `db:"created_at" json:"-"`
	UpdatedAt     time.Time `db:"updated_at" json:"-"`
}

// Identity projects the public part of the record.
func (r *CredentialRecord) Identity() Identity {
	return Identity{
		ID:            r.IdentityID,
		Email:         r.Email,
		EmailVerified: r.EmailVerified,
		CreatedAt:     r.CreatedAt,
	}
}
