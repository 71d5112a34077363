package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	argon2Prefix     = "$argon2id$"
	argon2SaltLength = 16
	argon2KeyLength  = 32

	// bcrypt only reads the first 72 bytes of its input.
	bcryptMaxPasswordLength = 72
)

var errUnknownHashFormat = errors.New("unknown password hash format")

// ErrPasswordTooLong is returned by Hash when the algorithm cannot take the
// whole password.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// PasswordHasherConfig selects the algorithm used for new hashes. Existing
// hashes are always verified with the algorithm they were created with.
type PasswordHasherConfig struct {
	Algorithm     string
	Argon2Memory  uint32
	Argon2Time    uint32
	Argon2Threads uint8
	BcryptCost    int
}

// PasswordHasher derives and verifies password digests.
type PasswordHasher struct {
	cfg       PasswordHasherConfig
	dummyHash string
	dummySalt string
}

// NewPasswordHasher fills defaults and precomputes the digest used to keep
// unknown-email logins as expensive as real ones.
func NewPasswordHasher(cfg PasswordHasherConfig) (*PasswordHasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "argon2id"
	}
	if cfg.Argon2Memory == 0 {
		cfg.Argon2Memory = 64 * 1024
	}
	if cfg.Argon2Time == 0 {
		cfg.Argon2Time = 1
	}
	if cfg.Argon2Threads == 0 {
		cfg.Argon2Threads = 4
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cfg.BcryptCost)
	}
	if cfg.Algorithm != "argon2id" && cfg.Algorithm != "bcrypt" {
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	h := &PasswordHasher{cfg: cfg}
	hash, salt, err := h.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, err
	}
	h.dummyHash, h.dummySalt = hash, salt
	return h, nil
}

// Hash returns the digest and the salt to store alongside it. bcrypt embeds
// its salt in the digest, so the returned salt is empty for it.
func (h *PasswordHasher) Hash(password string) (string, string, error) {
	if h.cfg.Algorithm == "bcrypt" {
		if len(password) > bcryptMaxPasswordLength {
			return "", "", ErrPasswordTooLong
		}
		digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cfg.BcryptCost)
		if err != nil {
			return "", "", err
		}
		return string(digest), "", nil
	}

	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.cfg.Argon2Time, h.cfg.Argon2Memory, h.cfg.Argon2Threads, argon2KeyLength)
	digest := fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s",
		argon2Prefix,
		argon2.Version,
		h.cfg.Argon2Memory,
		h.cfg.Argon2Time,
		h.cfg.Argon2Threads,
		base64.RawStdEncoding.EncodeToString(key),
	)
	return digest, base64.RawStdEncoding.EncodeToString(salt), nil
}

// Verify compares password against a stored digest in constant time.
func (h *PasswordHasher) Verify(password, digest, salt string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, argon2Prefix):
		return verifyArgon2(password, digest, salt)
	case strings.HasPrefix(digest, "$2"):
		if len(password) > bcryptMaxPasswordLength {
			return false, nil
		}
		err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return err == nil, err
	default:
		return false, errUnknownHashFormat
	}
}

// VerifyDummy burns the same work as a real verification and always fails.
func (h *PasswordHasher) VerifyDummy(password string) {
	_, _ = h.Verify(password, h.dummyHash, h.dummySalt)
}

func verifyArgon2(password, digest, salt string) (bool, error) {
	// $argon2id$v=19$m=65536,t=1,p=4$<key>
	parts := strings.Split(digest, "$")
	if len(parts) != 5 {
		return false, errUnknownHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, errUnknownHashFormat
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false, errUnknownHashFormat
	}

	want, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errUnknownHashFormat
	}
	rawSalt, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil || len(rawSalt) == 0 {
		return false, errUnknownHashFormat
	}

	got := argon2.IDKey([]byte(password), rawSalt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
