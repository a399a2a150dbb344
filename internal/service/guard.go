package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/internal/event"
	"github.com/altenburg/erp-identity/internal/repository"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// EventPublisher publishes account events. Failures are logged by callers
// and never fail the operation that produced the event.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, u *domain.User) error
	PublishUserLocked(ctx context.Context, u *domain.User, reason string) error
	PublishUserUnlocked(ctx context.Context, u *domain.User) error
	PublishRolesChanged(ctx context.Context, u *domain.User, previous []string) error
	PublishUserDeleted(ctx context.Context, u *domain.User) error
}

// AccountGuard persists lockout state transitions. Failures are counted by
// a single store operation; the other transitions are read-modify-writes
// guarded by the row version.
type AccountGuard struct {
	users  repository.UserRepository
	policy domain.LockoutPolicy
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewAccountGuard creates a guard locking accounts after threshold failures.
func NewAccountGuard(users repository.UserRepository, threshold int, events EventPublisher, logger *slog.Logger) *AccountGuard {
	return &AccountGuard{
		users:  users,
		policy: domain.NewLockoutPolicy(threshold),
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// RecordFailure counts a failed authentication attempt against u. On an
// already locked account nothing is written; the attempt is only audited.
func (g *AccountGuard) RecordFailure(ctx context.Context, u *domain.User) (*domain.User, domain.LockoutOutcome, error) {
	if u.IsLocked {
		g.auditLocked(ctx, u)
		return u, domain.AlreadyLocked, nil
	}

	err := g.users.RecordFailedLogin(ctx, u, g.policy.Threshold)
	if errors.Is(err, apperrors.ErrAccountLocked) {
		u.IsLocked = true
		g.auditLocked(ctx, u)
		return u, domain.AlreadyLocked, nil
	}
	if err != nil {
		return nil, 0, err
	}

	g.logger.WarnContext(ctx, "failed login recorded",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
		slog.Int("failed_attempts", u.FailedLoginAttempts),
	)
	if !u.IsLocked {
		return u, domain.FailureCounted, nil
	}

	accountLockouts.WithLabelValues(event.LockReasonFailedLogins).Inc()
	g.logger.WarnContext(ctx, "account locked after repeated failures",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	g.publishLocked(ctx, u, event.LockReasonFailedLogins)
	return u, domain.LockedNow, nil
}

func (g *AccountGuard) auditLocked(ctx context.Context, u *domain.User) {
	g.logger.WarnContext(ctx, "failed login on locked account",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
}

// RecordSuccess resets the failure counter and stamps the last login time.
func (g *AccountGuard) RecordSuccess(ctx context.Context, u *domain.User) (*domain.User, error) {
	return mutateUser(ctx, g.users, u, false, func(cur *domain.User) error {
		g.policy.RecordSuccess(cur, g.now())
		return nil
	})
}

// ForceLock locks the account administratively.
func (g *AccountGuard) ForceLock(ctx context.Context, u *domain.User) (*domain.User, error) {
	saved, err := mutateUser(ctx, g.users, u, false, func(cur *domain.User) error {
		g.policy.ForceLock(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}

	accountLockouts.WithLabelValues(event.LockReasonAdmin).Inc()
	g.logger.InfoContext(ctx, "account locked by administrator",
		slog.String("user_id", saved.ID),
		slog.String("username", saved.Username),
	)
	g.publishLocked(ctx, saved, event.LockReasonAdmin)
	return saved, nil
}

// ForceUnlock unlocks the account and resets its failure counter.
func (g *AccountGuard) ForceUnlock(ctx context.Context, u *domain.User) (*domain.User, error) {
	saved, err := mutateUser(ctx, g.users, u, false, func(cur *domain.User) error {
		g.policy.ForceUnlock(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "account unlocked by administrator",
		slog.String("user_id", saved.ID),
		slog.String("username", saved.Username),
	)
	if err := g.events.PublishUserUnlocked(ctx, saved); err != nil {
		g.logger.ErrorContext(ctx, "failed to publish user.unlocked event",
			slog.String("user_id", saved.ID),
			slog.String("error", err.Error()),
		)
	}
	return saved, nil
}

func (g *AccountGuard) publishLocked(ctx context.Context, u *domain.User, reason string) {
	if err := g.events.PublishUserLocked(ctx, u, reason); err != nil {
		g.logger.ErrorContext(ctx, "failed to publish user.locked event",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
}

// mutateUser applies fn to u and persists the result. When another writer
// bumped the version first, the user is reloaded and fn is applied again to
// the fresh copy until the write lands or ctx is done.
func mutateUser(ctx context.Context, users repository.UserRepository, u *domain.User, withRoles bool, fn func(*domain.User) error) (*domain.User, error) {
	save := users.Update
	if withRoles {
		save = users.UpdateWithRoles
	}

	cur := u
	for {
		if err := fn(cur); err != nil {
			return cur, err
		}
		err := save(ctx, cur)
		if err == nil {
			return cur, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperrors.StoreUnavailable("update user", ctxErr)
		}

		fresh, err := users.FindByID(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
		cur = fresh
	}
}
