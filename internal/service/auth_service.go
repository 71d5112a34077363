package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	"github.com/noah-isme/mobile-auth-api/internal/repository"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
	"github.com/noah-isme/mobile-auth-api/pkg/logger"
)

const registeredMessage = "User registered successfully. Please verify your email."

type identityRepository interface {
	Create(ctx context.Context, record *models.CredentialRecord) error
	FindByEmail(ctx context.Context, email string) (*models.CredentialRecord, error)
	FindByID(ctx context.Context, id string) (*models.CredentialRecord, error)
}

type sessionCache interface {
	Set(ctx context.Context, entry models.SessionEntry) error
	Delete(ctx context.Context, identityID string) error
	Rotate(ctx context.Context, identityID, expectedTokenID string, next models.SessionEntry) error
	CompareAndDelete(ctx context.Context, identityID, tokenID string) error
}

// AuthService issues, rotates and revokes session tokens.
type AuthService struct {
	identities identityRepository
	sessions   sessionCache
	tokens     *TokenManager
	hasher     *PasswordHasher
	validator  *validator.Validate
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(
	identities identityRepository,
	sessions sessionCache,
	tokens *TokenManager,
	hasher *PasswordHasher,
	validate *validator.Validate,
	metrics *MetricsService,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		identities: identities,
		sessions:   sessions,
		tokens:     tokens,
		hasher:     hasher,
		validator:  validate,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Register creates a new identity.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (resp *models.RegisterResponse, err error) {
	defer func() { s.record(EventRegister, err) }()

	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	if _, err := s.identities.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.ErrEmailTaken
	} else if !errors.Is(err, appErrors.ErrNotFound) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up identity")
	}

	start := time.Now()
	digest, salt, err := s.hasher.Hash(req.Password)
	s.metrics.ObservePasswordHash(time.Since(start))
	if errors.Is(err, ErrPasswordTooLong) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "password must be at most 72 bytes")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	now := s.now().UTC()
	record := &models.CredentialRecord{
		IdentityID:   uuid.NewString(),
		Email:        req.Email,
		PasswordHash: digest,
		PasswordSalt: salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, record); err != nil {
		if errors.Is(err, appErrors.ErrEmailTaken) {
			return nil, appErrors.ErrEmailTaken
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create identity")
	}

	s.logger.Info("identity registered", zap.String("identity_id", record.IdentityID), logger.Email("email", record.Email))
	return &models.RegisterResponse{Message: registeredMessage, IdentityID: record.IdentityID}, nil
}

// Authenticate verifies credentials and starts a new session, replacing any
// session the identity already had.
func (s *AuthService) Authenticate(ctx context.Context, req models.LoginRequest) (pair *models.TokenPair, err error) {
	defer func() { s.record(EventLogin, err) }()

	req.Email = normalizeEmail(req.Email)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	record, err := s.identities.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			s.verifyDummy(req.Password)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch identity")
	}

	start := time.Now()
	ok, err := s.hasher.Verify(req.Password, record.PasswordHash, record.PasswordSalt)
	s.metrics.ObservePasswordHash(time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify password")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	access, err := s.tokens.MintAccess(record.IdentityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, err := s.tokens.MintRefresh(record.IdentityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	start = time.Now()
	err = s.sessions.Set(ctx, sessionEntry(record.IdentityID, refresh))
	s.metrics.ObserveSessionOperation("set", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	s.logger.Info("login succeeded",
		zap.String("identity_id", record.IdentityID),
		zap.String("ip", req.IP),
		zap.String("device", req.UserAgent),
	)
	return s.pair(access, refresh.Token), nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// invalidated; presenting it again revokes the whole session.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (pair *models.TokenPair, err error) {
	defer func() { s.record(EventRefresh, err) }()

	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}
	identityID := claims.Subject

	access, err := s.tokens.MintAccess(identityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, err := s.tokens.MintRefresh(identityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	start := time.Now()
	err = s.sessions.Rotate(ctx, identityID, claims.ID, sessionEntry(identityID, refresh))
	s.metrics.ObserveSessionOperation("rotate", time.Since(start))
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrSessionNotFound):
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "session is no longer active")
	case errors.Is(err, repository.ErrSessionMismatch):
		s.logger.Warn("refresh token reuse detected, revoking session",
			zap.String("identity_id", identityID),
			zap.String("ip", req.IP),
			zap.String("device", req.UserAgent),
		)
		s.metrics.RecordAuthEvent(EventReuse, "revoked")
		if delErr := s.sessions.Delete(ctx, identityID); delErr != nil {
			s.logger.Error("failed to revoke session after reuse", zap.String("identity_id", identityID), zap.Error(delErr))
		}
		return nil, appErrors.Clone(appErrors.ErrTokenRevoked, "refresh token was already used")
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	s.logger.Debug("session refreshed", zap.String("identity_id", identityID), zap.String("device", req.UserAgent))
	return s.pair(access, refresh.Token), nil
}

// ValidateAccess checks signature, kind and expiry of an access token. It is
// stateless and never consults the session cache.
func (s *AuthService) ValidateAccess(token string) (*models.AccessClaims, error) {
	return s.tokens.ParseAccess(token)
}

// Logout ends the session owning refreshToken. It is idempotent: an expired
// token, an already revoked session or a superseded token all succeed
// without touching newer sessions.
func (s *AuthService) Logout(ctx context.Context, req models.LogoutRequest) (err error) {
	defer func() { s.record(EventLogout, err) }()

	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid logout payload")
	}

	claims, err := s.tokens.ParseRefresh(req.RefreshToken)
	if err != nil {
		if errors.Is(err, appErrors.ErrTokenExpired) {
			return nil
		}
		return err
	}

	start := time.Now()
	err = s.sessions.CompareAndDelete(ctx, claims.Subject, claims.ID)
	s.metrics.ObserveSessionOperation("compare_and_delete", time.Since(start))
	if err != nil && !errors.Is(err, repository.ErrSessionNotFound) && !errors.Is(err, repository.ErrSessionMismatch) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}

	s.logger.Info("logout", zap.String("identity_id", claims.Subject))
	return nil
}

// Me returns the public identity for identityID.
func (s *AuthService) Me(ctx context.Context, identityID string) (*models.Identity, error) {
	record, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "identity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch identity")
	}
	identity := record.Identity()
	return &identity, nil
}

func (s *AuthService) pair(access, refresh string) *models.TokenPair {
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}
}

func (s *AuthService) verifyDummy(password string) {
	start := time.Now()
	s.hasher.VerifyDummy(password)
	s.metrics.ObservePasswordHash(time.Since(start))
}

func (s *AuthService) record(event string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordAuthEvent(event, outcome)
}

func sessionEntry(identityID string, refresh *MintedRefresh) models.SessionEntry {
	return models.SessionEntry{
		IdentityID: identityID,
		TokenID:    refresh.TokenID,
		IssuedAt:   refresh.IssuedAt,
		ExpiresAt:  refresh.ExpiresAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
