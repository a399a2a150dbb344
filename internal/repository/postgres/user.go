package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/pkg/database"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

const userColumns = `id, username, email, password_hash, first_name, last_name, phone_number, ` +
	`is_active, is_locked, failed_login_attempts, last_login, version, created_at, updated_at`

const (
	insertUserSQL = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	updateUserSQL = `
		UPDATE users
		SET email = $1, password_hash = $2, first_name = $3, last_name = $4, phone_number = $5,
		    is_active = $6, is_locked = $7, failed_login_attempts = $8, last_login = $9,
		    updated_at = $10, version = version + 1
		WHERE id = $11 AND version = $12`

	recordFailedLoginSQL = `
		UPDATE users
		SET failed_login_attempts = LEAST(failed_login_attempts + 1, $2),
		    is_locked = failed_login_attempts + 1 >= $2,
		    updated_at = $3, version = version + 1
		WHERE id = $1 AND NOT is_locked
		RETURNING failed_login_attempts, is_locked, version, updated_at`

	deleteUserRolesSQL = `DELETE FROM user_roles WHERE user_id = $1`

	insertUserRolesSQL = `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::bigint[])`

	selectUserRolesSQL = `
		SELECT ur.user_id, r.id, r.name, r.description, r.is_default, r.created_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ANY($1::uuid[])
		ORDER BY r.name`
)

// Unique constraint names from the users table.
const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_key"
)

// userSortColumns guards ORDER BY against anything but known columns.
var userSortColumns = map[string]bool{
	"username":   true,
	"email":      true,
	"created_at": true,
	"last_login": true,
}

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, "FindUserByID", "id", id)
}

// FindByUsername retrieves a user by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, "FindUserByUsername", "username", username)
}

// FindByEmail retrieves a user by email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, "FindUserByEmail", "email", domain.NormalizeEmail(email))
}

// ExistsByUsername reports whether a user with the username exists.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, "ExistsUserByUsername", "username", username)
}

// ExistsByEmail reports whether a user with the email exists.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, "ExistsUserByEmail", "email", domain.NormalizeEmail(email))
}

// Create inserts the user and its role links in one transaction.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateUser", insertUserSQL)
	defer func() { end(err) }()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := r.now()
	u.CreatedAt, u.UpdatedAt, u.Version = now, now, 1

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperrors.StoreUnavailable("begin create user", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, insertUserSQL,
		u.ID, u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, nullable(u.Phone),
		u.IsActive, u.IsLocked, u.FailedLoginAttempts, u.LastLoginAt, u.Version, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return translateWriteError("insert user", u, err)
	}

	if err = insertRoles(ctx, tx, u); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return apperrors.StoreUnavailable("commit create user", err)
	}
	return nil
}

// Update writes the account row under optimistic concurrency control.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateUser", updateUserSQL)
	defer func() { end(err) }()

	if err = r.updateRow(ctx, r.db, u); err != nil {
		return err
	}
	u.Version++
	return nil
}

// UpdateWithRoles writes the account row and replaces its role links in one
// transaction. Either both changes land or neither does.
func (r *UserRepository) UpdateWithRoles(ctx context.Context, u *domain.User) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateUserWithRoles", updateUserSQL)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return apperrors.StoreUnavailable("begin update user", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = r.updateRow(ctx, tx, u); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, deleteUserRolesSQL, u.ID); err != nil {
		return apperrors.StoreUnavailable("delete user roles", err)
	}
	if err = insertRoles(ctx, tx, u); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return apperrors.StoreUnavailable("commit update user", err)
	}
	u.Version++
	return nil
}

func (r *UserRepository) updateRow(ctx context.Context, db database.DBTX, u *domain.User) error {
	updatedAt := r.now()
	ct, err := db.Exec(ctx, updateUserSQL,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, nullable(u.Phone),
		u.IsActive, u.IsLocked, u.FailedLoginAttempts, u.LastLoginAt,
		updatedAt, u.ID, u.Version,
	)
	if err != nil {
		return translateWriteError("update user", u, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("user %s was modified concurrently", u.ID))
	}
	u.UpdatedAt = updatedAt
	return nil
}

// RecordFailedLogin counts one failure in a single statement, locking the
// account once the counter reaches threshold. Concurrent failures on one
// account serialize on the row lock. The stored counter, lock flag and
// version are copied back into u.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, u *domain.User, threshold int) (err error) {
	ctx, end := database.TraceQuery(ctx, "RecordFailedLogin", recordFailedLoginSQL)
	defer func() { end(err) }()

	var (
		attempts  int
		locked    bool
		version   int64
		updatedAt time.Time
	)
	err = r.db.QueryRow(ctx, recordFailedLoginSQL, u.ID, threshold, r.now()).
		Scan(&attempts, &locked, &version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, existsErr := r.exists(ctx, "record failed login", "id", u.ID)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return apperrors.NotFound("user", u.ID)
		}
		return apperrors.AccountLocked()
	}
	if err != nil {
		return apperrors.StoreUnavailable("record failed login", err)
	}

	u.FailedLoginAttempts = attempts
	u.IsLocked = locked
	u.Version = version
	u.UpdatedAt = updatedAt
	return nil
}

// Delete removes a user; role links cascade.
func (r *UserRepository) Delete(ctx context.Context, id string) (err error) {
	const query = `DELETE FROM users WHERE id = $1`
	ctx, end := database.TraceQuery(ctx, "DeleteUser", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperrors.StoreUnavailable("delete user", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepository) Count(ctx context.Context) (n int64, err error) {
	const query = `SELECT COUNT(*) FROM users`
	ctx, end := database.TraceQuery(ctx, "CountUsers", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, apperrors.StoreUnavailable("count users", err)
	}
	return n, nil
}

// List returns a page of users ordered by a whitelisted column.
func (r *UserRepository) List(ctx context.Context, f domain.UserFilter) (users []domain.User, total int, err error) {
	sortBy := f.SortBy
	if !userSortColumns[sortBy] {
		sortBy = "created_at"
	}
	sortDir := "ASC"
	if f.SortDir == "DESC" {
		sortDir = "DESC"
	}
	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY %s %s, id LIMIT $1 OFFSET $2`, userColumns, sortBy, sortDir)

	ctx, end := database.TraceQuery(ctx, "ListUsers", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, apperrors.StoreUnavailable("count users", err)
	}

	rows, err := r.db.Query(ctx, query, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, apperrors.StoreUnavailable("list users", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, scanErr := scanUser(rows)
		if scanErr != nil {
			err = scanErr
			return nil, 0, apperrors.StoreUnavailable("scan user", err)
		}
		users = append(users, *u)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, apperrors.StoreUnavailable("iterate users", err)
	}

	if len(users) == 0 {
		return []domain.User{}, total, nil
	}

	ids := make([]string, len(users))
	for i := range users {
		ids[i] = users[i].ID
	}
	roles, err := r.loadRoles(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		users[i].Roles = roles[users[i].ID]
	}
	return users, total, nil
}

func (r *UserRepository) findOne(ctx context.Context, op, column, value string) (u *domain.User, err error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s = $1`, userColumns, column)
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	u, err = scanUser(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user", value)
		}
		return nil, apperrors.StoreUnavailable("find user by "+column, err)
	}

	roles, err := r.loadRoles(ctx, []string{u.ID})
	if err != nil {
		return nil, err
	}
	u.Roles = roles[u.ID]
	return u, nil
}

func (r *UserRepository) exists(ctx context.Context, op, column, value string) (ok bool, err error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM users WHERE %s = $1)`, column)
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, value).Scan(&ok); err != nil {
		return false, apperrors.StoreUnavailable("check user "+column, err)
	}
	return ok, nil
}

func (r *UserRepository) loadRoles(ctx context.Context, userIDs []string) (map[string][]domain.Role, error) {
	rows, err := r.db.Query(ctx, selectUserRolesSQL, userIDs)
	if err != nil {
		return nil, apperrors.StoreUnavailable("load user roles", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Role, len(userIDs))
	for rows.Next() {
		var (
			userID string
			role   domain.Role
		)
		if err := rows.Scan(&userID, &role.ID, &role.Name, &role.Description, &role.IsDefault, &role.CreatedAt); err != nil {
			return nil, apperrors.StoreUnavailable("scan user role", err)
		}
		out[userID] = append(out[userID], role)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StoreUnavailable("iterate user roles", err)
	}
	return out, nil
}

func insertRoles(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	if len(u.Roles) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, insertUserRolesSQL, u.ID, u.RoleIDs()); err != nil {
		return apperrors.StoreUnavailable("insert user roles", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u     domain.User
		phone *string
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone,
		&u.IsActive, &u.IsLocked, &u.FailedLoginAttempts, &u.LastLoginAt, &u.Version, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if phone != nil {
		u.Phone = *phone
	}
	return &u, nil
}

func translateWriteError(op string, u *domain.User, err error) error {
	if constraint, ok := database.ConstraintViolated(err); ok {
		switch constraint {
		case usernameConstraint:
			return apperrors.DuplicateIdentity("username", u.Username)
		case emailConstraint:
			return apperrors.DuplicateIdentity("email", u.Email)
		default:
			return apperrors.DuplicateIdentity("identity", u.Username)
		}
	}
	return apperrors.StoreUnavailable(op, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
