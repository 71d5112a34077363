package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/mobile-auth-api/internal/models"
	appErrors "github.com/noah-isme/mobile-auth-api/pkg/errors"
)

// TokenConfig defines signing material and lifetimes for access and refresh
// tokens. The two kinds use separate secrets so one can never be replayed as
// the other.
type TokenConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	Leeway             time.Duration
}

// MintedRefresh describes a freshly signed refresh token.
type MintedRefresh struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager signs and verifies HS256 tokens.
type TokenManager struct {
	cfg TokenConfig
	now func() time.Time
}

// NewTokenManager constructs a TokenManager. now may be nil.
func NewTokenManager(cfg TokenConfig, now func() time.Time) (*TokenManager, error) {
	if cfg.AccessTokenSecret == "" || cfg.RefreshTokenSecret == "" {
		return nil, errors.New("token secrets must be set")
	}
	if cfg.AccessTokenExpiry <= 0 || cfg.RefreshTokenExpiry <= 0 {
		return nil, errors.New("token expiries must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &TokenManager{cfg: cfg, now: now}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *TokenManager) AccessTTL() time.Duration {
	return m.cfg.AccessTokenExpiry
}

// MintAccess issues an access token for identityID.
func (m *TokenManager) MintAccess(identityID string) (string, error) {
	issuedAt := m.now().UTC()
	claims := &models.AccessClaims{
		Type: models.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.cfg.AccessTokenExpiry)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.AccessTokenSecret))
}

// MintRefresh issues a refresh token with a unique jti.
func (m *TokenManager) MintRefresh(identityID string) (*MintedRefresh, error) {
	issuedAt := m.now().UTC()
	expiresAt := issuedAt.Add(m.cfg.RefreshTokenExpiry)
	tokenID := uuid.NewString()
	claims := &models.RefreshClaims{
		Type: models.TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    m.cfg.Issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.RefreshTokenSecret))
	if err != nil {
		return nil, err
	}
	// NumericDate has second precision; report what the token actually says.
	return &MintedRefresh{
		Token:     signed,
		TokenID:   tokenID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ParseAccess verifies signature, kind and expiry of an access token.
func (m *TokenManager) ParseAccess(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	if err := m.parse(tokenString, claims, m.cfg.AccessTokenSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess || claims.Subject == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "not an access token")
	}
	return claims, nil
}

// ParseRefresh verifies signature, kind and expiry of a refresh token.
func (m *TokenManager) ParseRefresh(tokenString string) (*models.RefreshClaims, error) {
	claims := &models.RefreshClaims{}
	if err := m.parse(tokenString, claims, m.cfg.RefreshTokenSecret); err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh || claims.Subject == "" || claims.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "not a refresh token")
	}
	return claims, nil
}

func (m *TokenManager) parse(tokenString string, claims jwt.Claims, secret string) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.cfg.Leeway))
	}
	if m.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.cfg.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
		}
		return appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}
	if !token.Valid {
		return appErrors.Clone(appErrors.ErrInvalidToken, "invalid token claims")
	}
	return nil
}
