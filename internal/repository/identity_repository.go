package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

const uniqueViolation = "23505"

// IdentityStore persists credential records.
type IdentityStore interface {
	Create(ctx context.Context, record *models.CredentialRecord) error
	FindByEmail(ctx context.Context, email string) (*models.CredentialRecord, error)
	FindByID(ctx context.Context, id string) (*models.CredentialRecord, error)
	Ping(ctx context.Context) error
}

var (
	_ IdentityStore = (*IdentityRepository)(nil)
	_ IdentityStore = (*MemoryIdentityRepository)(nil)
)

// IdentityRepository provides database access for credential records.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// Create inserts a credential record. A duplicate email yields ErrEmailTaken.
func (r *IdentityRepository) Create(ctx context.Context, record *models.CredentialRecord) error {
	const query = `INSERT INTO identities (id, email, password_hash, password_salt, email_verified, created_at, updated_at)
VALUES (:id, :email, :password_hash, :password_salt, :email_verified, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return appErrors.ErrEmailTaken
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// FindByEmail returns the credential record for an email address.
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.CredentialRecord, error) {
	const query = `SELECT id, email, password_hash, password_salt, email_verified, created_at, updated_at FROM identities WHERE email = $1 LIMIT 1`
	var record models.CredentialRecord
	if err := r.db.GetContext(ctx, &record, query, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("find identity by email: %w", err)
	}
	return &record, nil
}

// FindByID returns the credential record for an identity.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.CredentialRecord, error) {
	const query = `SELECT id, email, password_hash, password_salt, email_verified, created_at, updated_at FROM identities WHERE id = $1 LIMIT 1`
	var record models.CredentialRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return &record, nil
}

// Ping reports whether the database is reachable.
func (r *IdentityRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// MemoryIdentityRepository keeps credential records in process.
type MemoryIdentityRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.CredentialRecord
	byEmail map[string]string
}

// NewMemoryIdentityRepository constructs an empty repository.
func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{
		byID:    make(map[string]models.CredentialRecord),
		byEmail: make(map[string]string),
	}
}

// Create inserts a credential record. A duplicate email yields ErrEmailTaken.
func (r *MemoryIdentityRepository) Create(_ context.Context, record *models.CredentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(record.Email)
	if _, exists := r.byEmail[email]; exists {
		return appErrors.ErrEmailTaken
	}
	r.byID[record.IdentityID] = *record
	r.byEmail[email] = record.IdentityID
	return nil
}

// FindByEmail returns the credential record for an email address.
func (r *MemoryIdentityRepository) FindByEmail(_ context.Context, email string) (*models.CredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	record := r.byID[id]
	return &record, nil
}

// FindByID returns the credential record for an identity.
func (r *MemoryIdentityRepository) FindByID(_ context.Context, id string) (*models.CredentialRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.byID[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	return &record, nil
}

// Ping always succeeds.
func (r *MemoryIdentityRepository) Ping(context.Context) error { return nil }
