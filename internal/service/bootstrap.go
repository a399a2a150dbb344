package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/internal/repository"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// AdminAccount describes the administrator created on an empty store.
type AdminAccount struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
}

// DefaultAdminAccount returns the well-known initial administrator.
func DefaultAdminAccount() AdminAccount {
	return AdminAccount{
		Username:  "admin",
		Email:     "admin@altenburg-erp.com",
		Password:  "admin123",
		FirstName: "System",
		LastName:  "Administrator",
		Phone:     "+49123456789",
	}
}

// Bootstrapper seeds the canonical roles and the first administrator. It
// is idempotent and runs on every startup; concurrent instances racing on
// the same rows are resolved by the store's unique constraints.
type Bootstrapper struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	hasher *auth.Hasher
	admin  AdminAccount
	logger *slog.Logger
}

// NewBootstrapper creates a Bootstrapper.
func NewBootstrapper(users repository.UserRepository, roles repository.RoleRepository, hasher *auth.Hasher, admin AdminAccount, logger *slog.Logger) *Bootstrapper {
	return &Bootstrapper{users: users, roles: roles, hasher: hasher, admin: admin, logger: logger}
}

// Run ensures every canonical role exists and creates the administrator
// when no account exists yet.
func (b *Bootstrapper) Run(ctx context.Context) error {
	for _, role := range domain.CanonicalRoles() {
		if err := b.ensureRole(ctx, role); err != nil {
			return err
		}
	}

	n, err := b.users.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return nil
	}
	return b.createAdmin(ctx)
}

func (b *Bootstrapper) ensureRole(ctx context.Context, role domain.Role) error {
	exists, err := b.roles.ExistsByName(ctx, role.Name)
	if err != nil {
		return fmt.Errorf("check role %s: %w", role.Name, err)
	}
	if exists {
		return nil
	}

	if err := b.roles.Create(ctx, &role); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateIdentity) {
			return nil
		}
		return fmt.Errorf("create role %s: %w", role.Name, err)
	}
	b.logger.InfoContext(ctx, "role created", slog.String("role", role.Name))
	return nil
}

func (b *Bootstrapper) createAdmin(ctx context.Context) error {
	adminRole, err := b.roles.FindByName(ctx, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("load admin role: %w", err)
	}

	digest, err := b.hasher.Hash(b.admin.Password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	u := domain.NewUser(b.admin.Username, b.admin.Email, digest, b.admin.FirstName, b.admin.LastName, b.admin.Phone)
	u.SetRoles([]domain.Role{*adminRole})

	if err := b.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateIdentity) {
			return nil
		}
		return fmt.Errorf("create admin user: %w", err)
	}

	b.logger.WarnContext(ctx, "initial administrator created; change its password",
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
	)
	return nil
}
