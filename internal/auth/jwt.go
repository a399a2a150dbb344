package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// Token failures. All of them match apperrors.ErrUnauthorized; only
// ErrTokenExpired also matches apperrors.ErrTokenExpired.
var (
	ErrTokenMalformed  = fmt.Errorf("%w: malformed token", apperrors.ErrUnauthorized)
	ErrTokenSignature  = fmt.Errorf("%w: token signature invalid", apperrors.ErrUnauthorized)
	ErrTokenExpired    = apperrors.ErrTokenExpired
	ErrTokenInvalid    = fmt.Errorf("%w: token claims invalid", apperrors.ErrUnauthorized)
	ErrSubjectMismatch = fmt.Errorf("%w: token subject mismatch", apperrors.ErrUnauthorized)
	ErrWrongTokenType  = fmt.Errorf("%w: wrong token type", apperrors.ErrUnauthorized)
)

// Claims is the payload of both access and refresh tokens. Subject holds the
// username; UserID the immutable account id.
type Claims struct {
	UserID string           `json:"uid"`
	Roles  []string         `json:"roles"`
	Type   domain.TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenCodec issues and verifies HS256 signed tokens.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customises a TokenCodec.
type Option func(*TokenCodec)

// WithClock replaces the wall clock used for issuance and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec creates a codec from cfg.
func NewTokenCodec(cfg TokenConfig, opts ...Option) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}
	c := &TokenCodec{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// IssueAccess signs a short-lived access token.
func (c *TokenCodec) IssueAccess(userID, username string, roles []string) (string, *Claims, error) {
	return c.issue(domain.AccessToken, c.accessTTL, userID, username, roles)
}

// IssueRefresh signs a long-lived refresh token.
func (c *TokenCodec) IssueRefresh(userID, username string, roles []string) (string, *Claims, error) {
	return c.issue(domain.RefreshToken, c.refreshTTL, userID, username, roles)
}

// IssuePair signs an access and a refresh token for the same account.
func (c *TokenCodec) IssuePair(userID, username string, roles []string) (domain.TokenPair, error) {
	access, ac, err := c.IssueAccess(userID, username, roles)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, rc, err := c.IssueRefresh(userID, username, roles)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  ac.ExpiresAt.Time,
		RefreshExpiresAt: rc.ExpiresAt.Time,
		ExpiresIn:        c.accessTTL,
	}, nil
}

func (c *TokenCodec) issue(typ domain.TokenType, ttl time.Duration, userID, username string, roles []string) (string, *Claims, error) {
	now := c.now().UTC()
	claims := &Claims{
		UserID: userID,
		Roles:  append([]string(nil), roles...),
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// Verify checks signature, expiry, issuer and token type. A non-empty
// expectedSubject must equal the token's subject.
func (c *TokenCodec) Verify(token string, typ domain.TokenType, expectedSubject string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.Type != typ {
		return nil, ErrWrongTokenType
	}
	if expectedSubject != "" && claims.Subject != expectedSubject {
		return nil, ErrSubjectMismatch
	}
	return claims, nil
}

// ExtractSubject returns the subject of a correctly signed token without
// checking expiry, so expired refresh tokens can still be attributed.
func (c *TokenCodec) ExtractSubject(token string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, c.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", classify(err)
	}
	if claims.Subject == "" {
		return "", ErrTokenMalformed
	}
	return claims.Subject, nil
}

func (c *TokenCodec) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return c.secret, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}
