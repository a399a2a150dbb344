package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/altenburg/erp-identity/internal/auth"
	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

// --- Mock User Repository ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	args := m.Called(ctx, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserRepository) Update(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserRepository) UpdateWithRoles(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserRepository) RecordFailedLogin(ctx context.Context, u *domain.User, threshold int) error {
	return m.Called(ctx, u, threshold).Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepository) List(ctx context.Context, f domain.UserFilter) ([]domain.User, int, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]domain.User), args.Int(1), args.Error(2)
}

// --- In-memory stores ---

// memUserRepo is a versioned in-memory user store with the same uniqueness
// and optimistic-concurrency behaviour as the Postgres repository.
type memUserRepo struct {
	mu     sync.Mutex
	byID   map[string]domain.User
	writes int

	// latency delays every call before it touches the map, like a round
	// trip to the database. Set it before the repo is shared.
	latency time.Duration
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: make(map[string]domain.User)}
}

func clone(u domain.User) *domain.User {
	u.Roles = append([]domain.Role(nil), u.Roles...)
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return &u
}

func (r *memUserRepo) roundTrip() {
	if r.latency > 0 {
		time.Sleep(r.latency)
	}
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.roundTrip()
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return clone(u), nil
}

func (r *memUserRepo) find(match func(domain.User) bool, key string) (*domain.User, error) {
	r.roundTrip()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if match(u) {
			return clone(u), nil
		}
	}
	return nil, apperrors.NotFound("user", key)
}

func (r *memUserRepo) FindByUsername(_ context.Context, username string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Username == username }, username)
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(u domain.User) bool { return u.Email == email }, email)
}

func (r *memUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	return err == nil, nil
}

func (r *memUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.FindByEmail(ctx, email)
	return err == nil, nil
}

func (r *memUserRepo) checkUnique(u *domain.User) error {
	for id, other := range r.byID {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username {
			return apperrors.DuplicateIdentity("username", u.Username)
		}
		if other.Email == u.Email {
			return apperrors.DuplicateIdentity("email", u.Email)
		}
	}
	return nil
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.roundTrip()
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt, u.Version = now, now, 1
	r.byID[u.ID] = *clone(*u)
	r.writes++
	return nil
}

func (r *memUserRepo) update(u *domain.User, withRoles bool) error {
	r.roundTrip()
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[u.ID]
	if !ok || stored.Version != u.Version {
		return apperrors.Conflict("stale version")
	}
	if err := r.checkUnique(u); err != nil {
		return err
	}
	next := *clone(*u)
	if !withRoles {
		next.Roles = stored.Roles
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = next
	u.Version = next.Version
	r.writes++
	return nil
}

func (r *memUserRepo) Update(_ context.Context, u *domain.User) error {
	return r.update(u, false)
}

func (r *memUserRepo) UpdateWithRoles(_ context.Context, u *domain.User) error {
	return r.update(u, true)
}

func (r *memUserRepo) RecordFailedLogin(_ context.Context, u *domain.User, threshold int) error {
	r.roundTrip()
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[u.ID]
	if !ok {
		return apperrors.NotFound("user", u.ID)
	}
	if domain.NewLockoutPolicy(threshold).RecordFailure(&stored) == domain.AlreadyLocked {
		return apperrors.AccountLocked()
	}
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	r.byID[u.ID] = stored
	r.writes++
	u.FailedLoginAttempts, u.IsLocked, u.Version, u.UpdatedAt = stored.FailedLoginAttempts, stored.IsLocked, stored.Version, stored.UpdatedAt
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.NotFound("user", id)
	}
	delete(r.byID, id)
	return nil
}

func (r *memUserRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.byID)), nil
}

func (r *memUserRepo) List(_ context.Context, f domain.UserFilter) ([]domain.User, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]domain.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, *clone(u))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })
	total := len(all)
	if f.Offset >= total {
		return []domain.User{}, total, nil
	}
	end := min(f.Offset+f.Limit, total)
	return all[f.Offset:end], total, nil
}

func (r *memUserRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type memRoleRepo struct {
	mu     sync.Mutex
	nextID int64
	roles  map[int64]domain.Role
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{roles: make(map[int64]domain.Role)}
}

// seededRoleRepo holds the canonical roles with ids 1..4.
func seededRoleRepo(t *testing.T) *memRoleRepo {
	t.Helper()
	r := newMemRoleRepo()
	for _, role := range domain.CanonicalRoles() {
		require.NoError(t, r.Create(context.Background(), &role))
	}
	return r
}

func (r *memRoleRepo) FindByName(_ context.Context, name string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Name == name {
			out := role
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("role", name)
}

func (r *memRoleRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, err := r.FindByName(ctx, name)
	return err == nil, nil
}

func (r *memRoleRepo) FindByIDs(_ context.Context, ids []int64) ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.Role{}
	for _, id := range ids {
		if role, ok := r.roles[id]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (r *memRoleRepo) Create(_ context.Context, role *domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return apperrors.DuplicateIdentity("role name", role.Name)
		}
	}
	r.nextID++
	role.ID = r.nextID
	role.CreatedAt = time.Now().UTC()
	r.roles[role.ID] = *role
	return nil
}

func (r *memRoleRepo) List(context.Context) ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
	err     error
}

func newMemRevocations() *memRevocations {
	return &memRevocations{revoked: make(map[string]time.Duration)}
}

func (m *memRevocations) Revoke(_ context.Context, id string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.revoked[id]; ok {
		return false, nil
	}
	m.revoked[id] = ttl
	return true, nil
}

// --- Event recorder ---

type recordedEvent struct {
	kind   string
	userID string
	detail []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) record(kind, userID string, detail ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind: kind, userID: userID, detail: detail})
	return p.err
}

func (p *recordingPublisher) PublishUserRegistered(_ context.Context, u *domain.User) error {
	return p.record("registered", u.ID)
}

func (p *recordingPublisher) PublishUserLocked(_ context.Context, u *domain.User, reason string) error {
	return p.record("locked", u.ID, reason)
}

func (p *recordingPublisher) PublishUserUnlocked(_ context.Context, u *domain.User) error {
	return p.record("unlocked", u.ID)
}

func (p *recordingPublisher) PublishRolesChanged(_ context.Context, u *domain.User, previous []string) error {
	return p.record("roles_changed", u.ID, previous...)
}

func (p *recordingPublisher) PublishUserDeleted(_ context.Context, u *domain.User) error {
	return p.record("deleted", u.ID)
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHasher(t *testing.T) *auth.Hasher {
	t.Helper()
	h, err := auth.NewHasher(4)
	require.NoError(t, err)
	return h
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCodec(t *testing.T, clock *testClock) *auth.TokenCodec {
	t.Helper()
	c, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     "service-test-secret-that-is-long-enough",
		Issuer:     "erp-identity",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, auth.WithClock(clock.Now))
	require.NoError(t, err)
	return c
}

// fixture wires an AuthService and a UserService over in-memory stores.
type fixture struct {
	users       *memUserRepo
	roles       *memRoleRepo
	revocations *memRevocations
	events      *recordingPublisher
	hasher      *auth.Hasher
	codec       *auth.TokenCodec
	clock       *testClock
	guard       *AccountGuard
	auth        *AuthService
	admin       *UserService
}

func newFixture(t *testing.T, threshold int) *fixture {
	t.Helper()
	f := &fixture{
		users:       newMemUserRepo(),
		roles:       seededRoleRepo(t),
		revocations: newMemRevocations(),
		events:      &recordingPublisher{},
		hasher:      newTestHasher(t),
		clock:       &testClock{t: time.Now().UTC().Truncate(time.Second)},
	}
	f.codec = newTestCodec(t, f.clock)
	f.guard = NewAccountGuard(f.users, threshold, f.events, discardLogger())
	f.guard.now = f.clock.Now
	f.auth = NewAuthService(f.users, f.roles, f.revocations, f.hasher, f.codec, f.guard, f.events, discardLogger())
	f.auth.now = f.clock.Now
	f.admin = NewUserService(f.users, f.roles, f.guard, f.events, discardLogger())
	return f
}

func (f *fixture) register(t *testing.T, username, email, password string) *domain.User {
	t.Helper()
	u, err := f.auth.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: "Test",
		LastName:  "User",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) role(t *testing.T, name string) domain.Role {
	t.Helper()
	r, err := f.roles.FindByName(context.Background(), name)
	require.NoError(t, err)
	return *r
}
