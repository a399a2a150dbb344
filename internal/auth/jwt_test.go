package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altenburg/erp-identity/internal/domain"
	apperrors "github.com/altenburg/erp-identity/pkg/errors"
)

const testSecret = "test-secret-key-that-is-long-enough-32"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T) (*TokenCodec, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := NewTokenCodec(TokenConfig{
		Secret:     testSecret,
		Issuer:     "erp-identity",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return c, clock
}

func TestNewTokenCodec_RejectsBadConfig(t *testing.T) {
	_, err := NewTokenCodec(TokenConfig{AccessTTL: time.Minute, RefreshTTL: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenCodec(TokenConfig{Secret: testSecret, AccessTTL: 0, RefreshTTL: time.Hour})
	assert.Error(t, err)
}

func TestIssueAccess_RoundTrip(t *testing.T) {
	c, clock := newTestCodec(t)

	token, issued, err := c.IssueAccess("user-1", "alice", []string{domain.RoleUser})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.ID)
	assert.Equal(t, clock.t.Add(15*time.Minute), issued.ExpiresAt.Time)

	claims, err := c.Verify(token, domain.AccessToken, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{domain.RoleUser}, claims.Roles)
	assert.Equal(t, domain.AccessToken, claims.Type)
	assert.Equal(t, "erp-identity", claims.Issuer)
}

func TestIssuePair_DistinctLifetimesAndIDs(t *testing.T) {
	c, clock := newTestCodec(t)

	pair, err := c.IssuePair("user-1", "alice", []string{domain.RoleUser})
	require.NoError(t, err)

	assert.Equal(t, clock.t.Add(15*time.Minute), pair.AccessExpiresAt)
	assert.Equal(t, clock.t.Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.Equal(t, 15*time.Minute, pair.ExpiresIn)

	access, err := c.Verify(pair.AccessToken, domain.AccessToken, "")
	require.NoError(t, err)
	refresh, err := c.Verify(pair.RefreshToken, domain.RefreshToken, "")
	require.NoError(t, err)
	assert.NotEqual(t, access.ID, refresh.ID)
}

func TestVerify_Expired(t *testing.T) {
	c, clock := newTestCodec(t)
	token, _, err := c.IssueAccess("user-1", "alice", nil)
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)

	_, err = c.Verify(token, domain.AccessToken, "alice")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestVerify_TamperedSignature(t *testing.T) {
	c, _ := newTestCodec(t)
	token, _, err := c.IssueAccess("user-1", "alice", []string{domain.RoleUser})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forged, _, err := c.IssueAccess("user-1", "alice", []string{domain.RoleAdmin})
	require.NoError(t, err)
	tampered := strings.Split(forged, ".")[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]

	_, err = c.Verify(tampered, domain.AccessToken, "alice")
	assert.ErrorIs(t, err, ErrTokenSignature)
	assert.False(t, errors.Is(err, apperrors.ErrTokenExpired))
}

func TestVerify_WrongSecret(t *testing.T) {
	c, clock := newTestCodec(t)
	other, err := NewTokenCodec(TokenConfig{
		Secret: "another-secret-key-that-is-long-enough", Issuer: "erp-identity",
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
	}, WithClock(clock.Now))
	require.NoError(t, err)

	token, _, err := other.IssueAccess("user-1", "alice", nil)
	require.NoError(t, err)

	_, err = c.Verify(token, domain.AccessToken, "")
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestVerify_ExpiredAndTamperedReportsSignature(t *testing.T) {
	c, clock := newTestCodec(t)
	token, _, err := c.IssueAccess("user-1", "alice", nil)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	_, err = c.Verify(token+"x", domain.AccessToken, "")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.False(t, errors.Is(err, ErrTokenExpired))
}

func TestVerify_Malformed(t *testing.T) {
	c, _ := newTestCodec(t)

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		_, err := c.Verify(token, domain.AccessToken, "")
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", token)
	}
}

func TestVerify_RejectsUnsignedToken(t *testing.T) {
	c, clock := newTestCodec(t)
	claims := &Claims{
		UserID: "user-1",
		Type:   domain.AccessToken,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "erp-identity",
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = c.Verify(unsigned, domain.AccessToken, "")
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = c.ExtractSubject(unsigned)
	assert.ErrorIs(t, err, ErrTokenSignature)
}

func TestVerify_SubjectMismatch(t *testing.T) {
	c, _ := newTestCodec(t)
	token, _, err := c.IssueRefresh("user-1", "alice", nil)
	require.NoError(t, err)

	_, err = c.Verify(token, domain.RefreshToken, "bob")
	assert.ErrorIs(t, err, ErrSubjectMismatch)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestVerify_WrongType(t *testing.T) {
	c, _ := newTestCodec(t)
	access, _, err := c.IssueAccess("user-1", "alice", nil)
	require.NoError(t, err)

	_, err = c.Verify(access, domain.RefreshToken, "alice")
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestVerify_WrongIssuer(t *testing.T) {
	c, clock := newTestCodec(t)
	other, err := NewTokenCodec(TokenConfig{
		Secret: testSecret, Issuer: "someone-else",
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
	}, WithClock(clock.Now))
	require.NoError(t, err)

	token, _, err := other.IssueAccess("user-1", "alice", nil)
	require.NoError(t, err)

	_, err = c.Verify(token, domain.AccessToken, "")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestExtractSubject_WorksOnExpiredToken(t *testing.T) {
	c, clock := newTestCodec(t)
	token, _, err := c.IssueRefresh("user-1", "alice", nil)
	require.NoError(t, err)

	clock.Advance(30 * 24 * time.Hour)

	subject, err := c.ExtractSubject(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	_, err = c.Verify(token, domain.RefreshToken, "alice")
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestExtractSubject_RejectsMalformed(t *testing.T) {
	c, _ := newTestCodec(t)

	_, err := c.ExtractSubject("garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}
