package repository

import (
	"context"
	"time"

	"github.com/altenburg/erp-identity/internal/domain"
)

// UserRepository is the credential store for accounts. Lookups return an
// error matching apperrors.ErrNotFound on a miss; any backend failure
// matches apperrors.ErrStoreUnavailable.
type UserRepository interface {
	// FindByID loads an account and its roles by id.
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// FindByUsername loads an account and its roles by exact username.
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// FindByEmail loads an account and its roles by normalized email.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)

	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Create inserts the account together with its role set. Username and
	// email uniqueness is enforced by the store and reported as
	// apperrors.ErrDuplicateIdentity.
	Create(ctx context.Context, user *domain.User) error

	// Update persists the account row if user.Version still matches the
	// stored version and bumps the version. A stale version is reported as
	// apperrors.ErrConflict.
	Update(ctx context.Context, user *domain.User) error

	// UpdateWithRoles is Update plus an atomic replacement of the role set.
	UpdateWithRoles(ctx context.Context, user *domain.User) error

	// RecordFailedLogin atomically counts one failed login against the
	// stored, unlocked account and locks it when the counter reaches
	// threshold. An account that is already locked is reported as
	// apperrors.ErrAccountLocked and left untouched. On success the stored
	// counter, lock flag and version are copied into user.
	RecordFailedLogin(ctx context.Context, user *domain.User, threshold int) error

	// Delete hard-deletes the account.
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int64, error)

	// List returns one page of accounts and the total number of accounts.
	List(ctx context.Context, filter domain.UserFilter) ([]domain.User, int, error)
}

// RoleRepository is the credential store for roles.
type RoleRepository interface {
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)

	// FindByIDs returns the roles that exist among ids, in no particular order.
	FindByIDs(ctx context.Context, ids []int64) ([]domain.Role, error)

	// Create inserts a role; an existing name is reported as apperrors.ErrDuplicateIdentity.
	Create(ctx context.Context, role *domain.Role) error

	List(ctx context.Context) ([]domain.Role, error)
}

// RevocationStore remembers revoked refresh token ids until they would
// have expired anyway.
type RevocationStore interface {
	// Revoke marks tokenID as revoked for ttl. It reports false when the
	// token was already revoked, so concurrent callers race on one winner.
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
}
