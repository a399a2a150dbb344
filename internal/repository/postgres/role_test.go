package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

func newRoleTestFixture(t *testing.T) (*RoleRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewRoleRepository(mock), mock
}

func roleColumnNames() []string {
	return []string{"id", "name", "description", "is_default", "created_at"}
}

func TestRoleRepository_FindByName(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM roles WHERE name =").
		WithArgs(domain.RoleAdmin).
		WillReturnRows(pgxmock.NewRows(roleColumnNames()).
			AddRow(int64(1), domain.RoleAdmin, "Administrator with full access", true, fixedNow))

	role, err := repo.FindByName(context.Background(), domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), role.ID)
	assert.True(t, role.IsDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_FindByName_NotFound(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM roles WHERE name =").
		WithArgs("ROLE_NOPE").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByName(context.Background(), "ROLE_NOPE")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_ExistsByName(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(domain.RoleGuest).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.ExistsByName(context.Background(), domain.RoleGuest)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_FindByIDs_ReturnsOnlyExisting(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM roles WHERE id = ANY").
		WithArgs([]int64{1, 999}).
		WillReturnRows(pgxmock.NewRows(roleColumnNames()).
			AddRow(int64(1), domain.RoleAdmin, "", true, fixedNow))

	roles, err := repo.FindByIDs(context.Background(), []int64{1, 999})
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, domain.RoleAdmin, roles[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_List(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM roles ORDER BY name").
		WillReturnRows(pgxmock.NewRows(roleColumnNames()).
			AddRow(int64(1), domain.RoleAdmin, "", true, fixedNow).
			AddRow(int64(4), domain.RoleGuest, "", true, fixedNow))

	roles, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_List_StoreUnavailable(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("FROM roles ORDER BY name").
		WillReturnError(errors.New("too many connections"))

	_, err := repo.List(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrStoreUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_Create(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	role := &domain.Role{Name: domain.RoleManager, Description: "Manager with limited administrative access", IsDefault: true}
	mock.ExpectQuery("INSERT INTO roles").
		WithArgs(role.Name, role.Description, true, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))

	require.NoError(t, repo.Create(context.Background(), role))
	assert.Equal(t, int64(2), role.ID)
	assert.False(t, role.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleRepository_Create_Duplicate(t *testing.T) {
	repo, mock := newRoleTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("INSERT INTO roles").
		WillReturnError(uniqueViolation("roles_name_key"))

	err := repo.Create(context.Background(), &domain.Role{Name: domain.RoleUser})
	assert.True(t, errors.Is(err, apperrors.ErrDuplicateIdentity))
	assert.NoError(t, mock.ExpectationsWereMet())
}
