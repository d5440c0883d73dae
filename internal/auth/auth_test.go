package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mlog-app/mlog-store/internal/kv"
	"github.com/mlog-app/mlog-store/internal/records"
)

func newDirectory(t *testing.T) (*Directory, *kv.Store) {
	t.Helper()
	s := kv.NewStore(kv.NewMemory())
	t.Cleanup(func() { _ = s.Close() })
	return NewDirectory(s, NewTokens("test-secret", time.Hour), bcrypt.MinCost), s
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	token, err := tokens.Issue(&User{ID: "u1", Email: "fan@example.com", Name: "Christine"})
	require.NoError(t, err)

	u, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "u1", Email: "fan@example.com", Name: "Christine"}, u)
}

func TestVerifyRejects(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	good, err := tokens.Issue(&User{ID: "u1"})
	require.NoError(t, err)

	other, err := NewTokens("other", time.Hour).Issue(&User{ID: "u1"})
	require.NoError(t, err)

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(&User{ID: "u1"})
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "iss": issuer}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"forged":    other,
		"expired":   old,
		"none alg":  none,
		"garbage":   "not.a.token",
		"truncated": good[:len(good)-4],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestUserContext(t *testing.T) {
	_, ok := UserFrom(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), &User{ID: "u1"})
	u, ok := UserFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
}

func TestSignUpAndLogin(t *testing.T) {
	ctx := context.Background()
	d, s := newDirectory(t)

	u, err := d.SignUp(ctx, "Fan@Example.com", "hunter22", "Raoul")
	require.NoError(t, err)
	assert.Equal(t, "fan@example.com", u.Email)
	assert.NotEmpty(t, u.ID)

	// The stored account never carries the plain password.
	raw, err := s.Get(ctx, records.AccountKey("fan@example.com"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter22")

	token, got, err := d.Login(ctx, "FAN@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u, got)
	verified, err := d.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, verified.ID)

	_, _, err = d.Login(ctx, "fan@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, _, err = d.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestSignUpRejects(t *testing.T) {
	ctx := context.Background()
	d, _ := newDirectory(t)
	_, err := d.SignUp(ctx, "fan@example.com", "hunter22", "")
	require.NoError(t, err)

	_, err = d.SignUp(ctx, "FAN@example.com", "another1", "")
	assert.ErrorIs(t, err, ErrEmailTaken)
	_, err = d.SignUp(ctx, "not-an-email", "hunter22", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = d.SignUp(ctx, "new@example.com", "short", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	d, _ := newDirectory(t)
	_, err := d.SignUp(ctx, "fan@example.com", "hunter22", "")
	require.NoError(t, err)

	assert.ErrorIs(t, d.ChangePassword(ctx, "fan@example.com", "wrong-one", "newpass1"), ErrBadCredentials)
	assert.ErrorIs(t, d.ChangePassword(ctx, "fan@example.com", "hunter22", "x"), ErrInvalidInput)
	assert.ErrorIs(t, d.ChangePassword(ctx, "ghost@example.com", "hunter22", "newpass1"), ErrUnknownAccount)

	require.NoError(t, d.ChangePassword(ctx, "fan@example.com", "hunter22", "newpass1"))
	_, _, err = d.Login(ctx, "fan@example.com", "hunter22")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, _, err = d.Login(ctx, "fan@example.com", "newpass1")
	assert.NoError(t, err)
}

func TestEmailAvailableAndLookup(t *testing.T) {
	ctx := context.Background()
	d, _ := newDirectory(t)

	ok, err := d.EmailAvailable(ctx, "fan@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	u, err := d.SignUp(ctx, "fan@example.com", "hunter22", "Raoul")
	require.NoError(t, err)

	ok, err = d.EmailAvailable(ctx, "Fan@Example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := d.Lookup(ctx, "fan@example.com")
	require.NoError(t, err)
	assert.Equal(t, u, got)
	_, err = d.Lookup(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestStoreFailureIsReported(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	d := NewDirectory(kv.NewStore(mem), NewTokens("s", time.Hour), bcrypt.MinCost)
	require.NoError(t, mem.Close())

	_, err := d.SignUp(ctx, "fan@example.com", "hunter22", "")
	assert.ErrorIs(t, err, kv.ErrUnavailable)
	_, _, err = d.Login(ctx, "fan@example.com", "hunter22")
	assert.ErrorIs(t, err, kv.ErrUnavailable)
}
