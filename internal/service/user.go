package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/internal/repository"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
	"github.com/altenburg/erp-identity/pkg/pagination"
)

// UserService implements the administrative account operations.
type UserService struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	guard  *AccountGuard
	events EventPublisher
	logger *slog.Logger
}

// NewUserService creates a new user administration service.
func NewUserService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	guard *AccountGuard,
	events EventPublisher,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:  users,
		roles:  roles,
		guard:  guard,
		events: events,
		logger: logger,
	}
}

// ListUsers returns one page of accounts.
func (s *UserService) ListUsers(ctx context.Context, p pagination.Params) (pagination.Result[domain.User], error) {
	users, total, err := s.users.List(ctx, domain.UserFilter{
		Offset:  p.Offset(),
		Limit:   p.Size,
		SortBy:  p.SortBy,
		SortDir: string(p.SortDir),
	})
	if err != nil {
		return pagination.Result[domain.User]{}, err
	}
	return pagination.NewResult(users, total, p), nil
}

// GetUser returns an account by id.
func (s *UserService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return s.users.FindByID(ctx, id)
}

// UpdateUser applies an administrative profile update. Username is immutable.
func (s *UserService) UpdateUser(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Email != nil {
		email := domain.NormalizeEmail(*upd.Email)
		if email != u.Email {
			taken, err := s.users.ExistsByEmail(ctx, email)
			if err != nil {
				return nil, err
			}
			if taken {
				return nil, apperrors.DuplicateIdentity("email", email)
			}
		}
	}

	saved, err := mutateUser(ctx, s.users, u, false, func(cur *domain.User) error {
		upd.Apply(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user profile updated", slog.String("user_id", saved.ID))
	return saved, nil
}

// DeleteUser hard-deletes an account.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "user deleted",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	if err := s.events.PublishUserDeleted(ctx, u); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.deleted event",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// UpdateRoles replaces the account's role set. Every id must resolve;
// otherwise nothing is written.
func (s *UserService) UpdateRoles(ctx context.Context, id string, roleIDs []int64) (*domain.User, error) {
	roleIDs = domain.DedupeRoleIDs(roleIDs)
	if len(roleIDs) == 0 {
		return nil, apperrors.InvalidInput("at least one role is required")
	}

	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	roles, err := s.roles.FindByIDs(ctx, roleIDs)
	if err != nil {
		return nil, err
	}
	if missing := missingRoleIDs(roleIDs, roles); len(missing) > 0 {
		return nil, apperrors.NotFound("role", strings.Join(missing, ","))
	}

	previous := u.RoleNames()
	saved, err := mutateUser(ctx, s.users, u, true, func(cur *domain.User) error {
		cur.SetRoles(roles)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user roles updated",
		slog.String("user_id", saved.ID),
		slog.Any("roles", saved.RoleNames()),
	)
	if err := s.events.PublishRolesChanged(ctx, saved, previous); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.roles_changed event",
			slog.String("user_id", saved.ID),
			slog.String("error", err.Error()),
		)
	}
	return saved, nil
}

// SetActiveStatus activates or deactivates an account.
func (s *UserService) SetActiveStatus(ctx context.Context, id string, active bool) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	saved, err := mutateUser(ctx, s.users, u, false, func(cur *domain.User) error {
		cur.IsActive = active
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "user active status changed",
		slog.String("user_id", saved.ID),
		slog.Bool("active", active),
	)
	return saved, nil
}

// SetLockStatus locks or unlocks an account. Unlocking resets the failure counter.
func (s *UserService) SetLockStatus(ctx context.Context, id string, locked bool) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if locked {
		return s.guard.ForceLock(ctx, u)
	}
	return s.guard.ForceUnlock(ctx, u)
}

// ListRoles returns every role.
func (s *UserService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return s.roles.List(ctx)
}

func missingRoleIDs(want []int64, found []domain.Role) []string {
	have := make(map[int64]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	var missing []string
	for _, id := range want {
		if !have[id] {
			missing = append(missing, fmt.Sprint(id))
		}
	}
	return missing
}
