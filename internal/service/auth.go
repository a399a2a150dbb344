package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/internal/repository"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// AuthService implements registration, login, token refresh and session
// introspection. It holds no account state between calls.
type AuthService struct {
	users       repository.UserRepository
	roles       repository.RoleRepository
	revocations repository.RevocationStore
	hasher      *auth.Hasher
	tokens      *auth.TokenCodec
	guard       *AccountGuard
	events      EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	revocations repository.RevocationStore,
	hasher *auth.Hasher,
	tokens *auth.TokenCodec,
	guard *AccountGuard,
	events EventPublisher,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		roles:       roles,
		revocations: revocations,
		hasher:      hasher,
		tokens:      tokens,
		guard:       guard,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// RegisterInput holds the parameters for self-registration.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// Register creates an account holding only the standard user role.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := domain.NormalizeUsername(in.Username)
	email := domain.NormalizeEmail(in.Email)

	exists, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.DuplicateIdentity("username", username)
	}
	exists, err = s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperrors.DuplicateIdentity("email", email)
	}

	digest, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	role, err := s.roles.FindByName(ctx, domain.RoleUser)
	if err != nil {
		return nil, err
	}

	u := domain.NewUser(username, email, digest, in.FirstName, in.LastName, in.Phone)
	u.SetRoles([]domain.Role{*role})

	// The unique constraints decide races between concurrent registrations.
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	registrations.Inc()
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	if err := s.events.PublishUserRegistered(ctx, u); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return u, nil
}

// Login authenticates username and password. Unknown usernames and wrong
// passwords both yield InvalidCredentials; a locked account yields
// AccountLocked even for the correct password.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	username = domain.NormalizeUsername(username)

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.hasher.VerifyDummy(password)
			loginAttempts.WithLabelValues(outcomeInvalidCredentials).Inc()
			s.logger.WarnContext(ctx, "login for unknown username", slog.String("username", username))
			return nil, apperrors.InvalidCredentials()
		}
		return nil, err
	}

	match := s.hasher.Verify(password, u.PasswordHash)

	if u.IsLocked {
		if !match {
			if _, _, err := s.guard.RecordFailure(ctx, u); err != nil {
				return nil, err
			}
		}
		loginAttempts.WithLabelValues(outcomeLocked).Inc()
		s.logger.WarnContext(ctx, "login rejected: account locked",
			slog.String("user_id", u.ID),
			slog.String("username", u.Username),
		)
		return nil, apperrors.AccountLocked()
	}

	if !u.IsActive {
		loginAttempts.WithLabelValues(outcomeDisabled).Inc()
		s.logger.WarnContext(ctx, "login rejected: account disabled",
			slog.String("user_id", u.ID),
			slog.String("username", u.Username),
		)
		return nil, apperrors.AccountDisabled()
	}

	if !match {
		_, outcome, err := s.guard.RecordFailure(ctx, u)
		if err != nil {
			return nil, err
		}
		if outcome == domain.AlreadyLocked {
			// Locked by a concurrent attempt after u was loaded.
			loginAttempts.WithLabelValues(outcomeLocked).Inc()
			return nil, apperrors.AccountLocked()
		}
		loginAttempts.WithLabelValues(outcomeInvalidCredentials).Inc()
		return nil, apperrors.InvalidCredentials()
	}

	u, err = s.guard.RecordSuccess(ctx, u)
	if err != nil {
		return nil, err
	}

	session, err := s.issueSession(u)
	if err != nil {
		return nil, err
	}

	loginAttempts.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return session, nil
}

// Refresh exchanges a refresh token for a new token pair carrying the
// account's current roles. Each refresh token can be exchanged once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	subject, err := s.tokens.ExtractSubject(refreshToken)
	if err != nil {
		tokenRefreshes.WithLabelValues(outcomeUnauthorized).Inc()
		return nil, apperrors.Unauthorized("invalid refresh token")
	}

	u, err := s.users.FindByUsername(ctx, subject)
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.Verify(refreshToken, domain.RefreshToken, u.Username)
	if err != nil {
		tokenRefreshes.WithLabelValues(outcomeUnauthorized).Inc()
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.Unauthorized("invalid refresh token")
	}
	// A username freed by deletion and taken by a new account must not
	// inherit the old account's sessions.
	if claims.UserID != u.ID {
		tokenRefreshes.WithLabelValues(outcomeUnauthorized).Inc()
		return nil, apperrors.Unauthorized("invalid refresh token")
	}

	if u.IsLocked {
		tokenRefreshes.WithLabelValues(outcomeLocked).Inc()
		return nil, apperrors.AccountLocked()
	}
	if !u.IsActive {
		tokenRefreshes.WithLabelValues(outcomeDisabled).Inc()
		return nil, apperrors.AccountDisabled()
	}

	first, err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
	if err != nil {
		return nil, err
	}
	if !first {
		tokenRefreshes.WithLabelValues(outcomeReused).Inc()
		s.logger.WarnContext(ctx, "refresh token reuse rejected",
			slog.String("user_id", u.ID),
			slog.String("token_id", claims.ID),
		)
		return nil, apperrors.Unauthorized("refresh token already used")
	}

	session, err := s.issueSession(u)
	if err != nil {
		return nil, err
	}

	tokenRefreshes.WithLabelValues(outcomeSuccess).Inc()
	s.logger.InfoContext(ctx, "tokens refreshed",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return session, nil
}

// Logout revokes a refresh token. Expired tokens are already unusable and
// are accepted without touching the store.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.Verify(refreshToken, domain.RefreshToken, "")
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil
		}
		return apperrors.Unauthorized("invalid refresh token")
	}

	if _, err := s.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(s.now())); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", claims.UserID),
		slog.String("username", claims.Subject),
	)
	return nil
}

// CurrentSession verifies an access token and returns the account it
// belongs to, with the roles as currently stored.
func (s *AuthService) CurrentSession(ctx context.Context, accessToken string) (*domain.User, error) {
	claims, err := s.tokens.Verify(accessToken, domain.AccessToken, "")
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.Unauthorized("invalid access token")
	}

	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("account no longer exists")
		}
		return nil, err
	}
	return u, nil
}

// UpdatePasswordInput holds the parameters for a password change.
type UpdatePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
}

// UpdatePassword replaces the account's password after verifying the
// current one. A confirmation mismatch fails before any store access.
func (s *AuthService) UpdatePassword(ctx context.Context, userID string, in UpdatePasswordInput) error {
	if in.NewPassword != in.ConfirmPassword {
		return apperrors.Mismatch()
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(in.CurrentPassword, u.PasswordHash) {
		s.logger.WarnContext(ctx, "password change rejected: wrong current password",
			slog.String("user_id", u.ID),
		)
		return apperrors.InvalidCredentials()
	}

	digest, err := s.hashPassword(in.NewPassword)
	if err != nil {
		return err
	}

	if _, err := mutateUser(ctx, s.users, u, false, func(cur *domain.User) error {
		cur.PasswordHash = digest
		return nil
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password updated", slog.String("user_id", u.ID))
	return nil
}

func (s *AuthService) issueSession(u *domain.User) (*domain.Session, error) {
	roles := u.RoleNames()
	pair, err := s.tokens.IssuePair(u.ID, u.Username, roles)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &domain.Session{User: u, Tokens: pair, Roles: roles}, nil
}

func (s *AuthService) hashPassword(plain string) (string, error) {
	digest, err := s.hasher.Hash(plain)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperrors.InvalidInput("password must not exceed 72 bytes")
		}
		return "", apperrors.Internal(err)
	}
	return digest, nil
}
