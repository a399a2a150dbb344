package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/pkg/database"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

const roleColumns = `id, name, description, is_default, created_at`

// RoleRepository implements repository.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db database.DBTX
}

// NewRoleRepository creates a new PostgreSQL-backed role repository.
func NewRoleRepository(db database.DBTX) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByName retrieves a role by its unique name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (role *domain.Role, err error) {
	const query = `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	ctx, end := database.TraceQuery(ctx, "FindRoleByName", query)
	defer func() { end(err) }()

	var out domain.Role
	err = r.db.QueryRow(ctx, query, name).Scan(&out.ID, &out.Name, &out.Description, &out.IsDefault, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("role", name)
		}
		return nil, apperrors.StoreUnavailable("find role by name", err)
	}
	return &out, nil
}

// ExistsByName reports whether a role with the name exists.
func (r *RoleRepository) ExistsByName(ctx context.Context, name string) (ok bool, err error) {
	const query = `SELECT EXISTS(SELECT 1 FROM roles WHERE name = $1)`
	ctx, end := database.TraceQuery(ctx, "ExistsRoleByName", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, name).Scan(&ok); err != nil {
		return false, apperrors.StoreUnavailable("check role name", err)
	}
	return ok, nil
}

// FindByIDs returns the roles matching ids. Missing ids are simply absent.
func (r *RoleRepository) FindByIDs(ctx context.Context, ids []int64) (roles []domain.Role, err error) {
	const query = `SELECT ` + roleColumns + ` FROM roles WHERE id = ANY($1) ORDER BY name`
	ctx, end := database.TraceQuery(ctx, "FindRolesByIDs", query)
	defer func() { end(err) }()

	return r.query(ctx, "find roles by ids", query, ids)
}

// List returns every role ordered by name.
func (r *RoleRepository) List(ctx context.Context) (roles []domain.Role, err error) {
	const query = `SELECT ` + roleColumns + ` FROM roles ORDER BY name`
	ctx, end := database.TraceQuery(ctx, "ListRoles", query)
	defer func() { end(err) }()

	return r.query(ctx, "list roles", query)
}

// Create inserts a role and fills in its id and creation time.
func (r *RoleRepository) Create(ctx context.Context, role *domain.Role) (err error) {
	const query = `
		INSERT INTO roles (name, description, is_default, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	ctx, end := database.TraceQuery(ctx, "CreateRole", query)
	defer func() { end(err) }()

	role.CreatedAt = time.Now().UTC()
	err = r.db.QueryRow(ctx, query, role.Name, role.Description, role.IsDefault, role.CreatedAt).Scan(&role.ID)
	if err != nil {
		if _, dup := database.ConstraintViolated(err); dup {
			return apperrors.DuplicateIdentity("role name", role.Name)
		}
		return apperrors.StoreUnavailable("insert role", err)
	}
	return nil
}

func (r *RoleRepository) query(ctx context.Context, op, query string, args ...any) ([]domain.Role, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StoreUnavailable(op, err)
	}
	defer rows.Close()

	roles := []domain.Role{}
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt); err != nil {
			return nil, apperrors.StoreUnavailable(op, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreUnavailable(op, err)
	}
	return roles, nil
}
