package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/domain"
	"github.com/altenburg/erp-identity/internal/service"
	"github.com/altenburg/erp-identity/pkg/health"
	"github.com/altenburg/erp-identity/pkg/middleware"
	"github.com/altenburg/erp-identity/pkg/pagination"
)

// ============================================================================
// Mock Services
// ============================================================================

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Register(ctx context.Context, in service.RegisterInput) (*domain.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockAuthenticator) Login(ctx context.Context, username, password string) (*domain.Session, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockAuthenticator) Refresh(ctx context.Context, token string) (*domain.Session, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *mockAuthenticator) Logout(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockAuthenticator) CurrentSession(ctx context.Context, token string) (*domain.User, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockAuthenticator) UpdatePassword(ctx context.Context, userID string, in service.UpdatePasswordInput) error {
	return m.Called(ctx, userID, in).Error(0)
}

type mockUserAdministrator struct {
	mock.Mock
}

func (m *mockUserAdministrator) ListUsers(ctx context.Context, p pagination.Params) (pagination.Result[domain.User], error) {
	args := m.Called(ctx, p)
	return args.Get(0).(pagination.Result[domain.User]), args.Error(1)
}

func (m *mockUserAdministrator) GetUser(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserAdministrator) UpdateUser(ctx context.Context, id string, upd domain.ProfileUpdate) (*domain.User, error) {
	args := m.Called(ctx, id, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserAdministrator) DeleteUser(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserAdministrator) UpdateRoles(ctx context.Context, id string, roleIDs []int64) (*domain.User, error) {
	args := m.Called(ctx, id, roleIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserAdministrator) SetActiveStatus(ctx context.Context, id string, active bool) (*domain.User, error) {
	args := m.Called(ctx, id, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserAdministrator) SetLockStatus(ctx context.Context, id string, locked bool) (*domain.User, error) {
	args := m.Called(ctx, id, locked)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserAdministrator) ListRoles(ctx context.Context) ([]domain.Role, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Role), args.Error(1)
}

// ============================================================================
// Test Helpers
// ============================================================================

const (
	adminID = "11111111-1111-4111-8111-111111111111"
	aliceID = "22222222-2222-4222-8222-222222222222"
)

type testEnv struct {
	router  http.Handler
	auth    *mockAuthenticator
	users   *mockUserAdministrator
	codec   *auth.TokenCodec
	limiter *middleware.RateLimiter
}

func newTestEnv(t *testing.T, burst int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     "handler-test-secret-that-is-long-enough",
		Issuer:     "erp-identity",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)

	env := &testEnv{
		auth:    new(mockAuthenticator),
		users:   new(mockUserAdministrator),
		codec:   codec,
		limiter: middleware.NewRateLimiter(0.01, burst, logger),
	}
	t.Cleanup(env.limiter.Stop)

	env.router = NewRouter(RouterConfig{
		Auth:     env.auth,
		Users:    env.users,
		Verifier: NewTokenVerifier(codec),
		Policy:   auth.DefaultPolicy(),
		Limiter:  env.limiter,
		Health:   health.NewHandler(),
		Logger:   logger,
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID, username string, roles ...string) string {
	t.Helper()
	tok, _, err := e.codec.IssueAccess(userID, username, roles)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func sampleUser() *domain.User {
	return &domain.User{
		ID:           aliceID,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "$2a$04$secretdigest",
		FirstName:    "Alice",
		LastName:     "Liddell",
		IsActive:     true,
		Roles:        []domain.Role{{ID: 3, Name: domain.RoleUser}},
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func sampleSession() *domain.Session {
	return &domain.Session{
		User: sampleUser(),
		Tokens: domain.TokenPair{
			AccessToken:  "access.jwt",
			RefreshToken: "refresh.jwt",
			ExpiresIn:    time.Hour,
		},
		Roles: []string{domain.RoleUser},
	}
}
