package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
	"github.com/Clarekpd/ss-expense-tracker/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	svc := NewService(store, NewTokenIssuer([]byte("test-secret"), time.Hour, nil), nil)
	return svc, store
}

func TestSignupLoginVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	uid, err := svc.Signup(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.True(t, core.ValidID(uid))

	res, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, uid, res.UserID)
	assert.Equal(t, "alice", res.Username)

	got, err := svc.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	user, err := svc.Profile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "secret1", user.PasswordHash)
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name, user, pass, msg string
	}{
		{"missing username", "", "secret1", "Username and password required"},
		{"blank username", "   ", "secret1", "Username and password required"},
		{"missing password", "bob", "", "Username and password required"},
		{"short password", "bob", "12345", "Password must be at least 6 characters"},
		{"too long password", "bob", strings.Repeat("x", 73), "Password must be at most 72 bytes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Signup(ctx, tc.user, tc.pass)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrValidation))
			assert.Equal(t, tc.msg, err.Error())
		})
	}

	_, err := svc.Signup(ctx, "bob", "123456")
	assert.NoError(t, err, "six characters is enough")
}

func TestSignupDuplicate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "secret1")
	require.NoError(t, err)

	_, err = svc.Signup(ctx, "alice", "other-password")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConflict))
	assert.Equal(t, "Username already exists", err.Error())

	_, err = svc.Signup(ctx, "Alice", "secret1")
	assert.NoError(t, err, "usernames are case-sensitive")
}

// racingStore reports no user on lookup but rejects the insert, as if a
// concurrent signup had won.
type racingStore struct {
	*storage.MemoryStore
}

func (racingStore) UserByUsername(context.Context, string) (core.User, error) {
	return core.User{}, core.ErrNotFound
}

func (racingStore) CreateUser(context.Context, core.User) error {
	return core.ErrConflict
}

func TestSignupLostRaceIsConflict(t *testing.T) {
	svc := NewService(racingStore{storage.NewMemoryStore()}, NewTokenIssuer([]byte("s"), time.Hour, nil), nil)

	_, err := svc.Signup(context.Background(), "alice", "secret1")
	assert.True(t, errors.Is(err, core.ErrConflict))
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "secret1")
	require.NoError(t, err)

	_, wrongPass := svc.Login(ctx, "alice", "wrong-password")
	_, unknownUser := svc.Login(ctx, "nobody", "secret1")

	require.Error(t, wrongPass)
	require.Error(t, unknownUser)
	assert.True(t, errors.Is(wrongPass, core.ErrInvalidCredentials))
	assert.True(t, errors.Is(unknownUser, core.ErrInvalidCredentials))
	assert.Equal(t, wrongPass.Error(), unknownUser.Error())

	_, err = svc.Login(ctx, "", "")
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestLoginUnknownUserStillComparesHash(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	var hashes []string
	svc.compare = func(hash, password string) bool {
		hashes = append(hashes, hash)
		return CheckPassword(hash, password)
	}

	_, err := svc.Login(ctx, "nobody", "secret1")
	require.True(t, errors.Is(err, core.ErrInvalidCredentials))
	require.Len(t, hashes, 1, "an unknown username pays for one bcrypt comparison")
	assert.True(t, strings.HasPrefix(hashes[0], "$2"), "compared against a real bcrypt hash")

	_, err = svc.Signup(ctx, "alice", "secret1")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "wrong-password")
	require.True(t, errors.Is(err, core.ErrInvalidCredentials))
	assert.Len(t, hashes, 2)
}

func TestProfileNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Profile(context.Background(), core.NewID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNotFound))
	assert.Equal(t, "User not found", err.Error())
}

func TestChangePassword(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	uid, err := svc.Signup(ctx, "alice", "secret1")
	require.NoError(t, err)
	before, err := store.UserByID(ctx, uid)
	require.NoError(t, err)

	oldLogin, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, uid, "wrong-old", "new-secret")
	assert.True(t, errors.Is(err, core.ErrInvalidCredentials))

	err = svc.ChangePassword(ctx, uid, "secret1", "123")
	assert.True(t, errors.Is(err, core.ErrValidation))

	err = svc.ChangePassword(ctx, uid, "", "new-secret")
	assert.True(t, errors.Is(err, core.ErrValidation))

	svc.now = func() time.Time { return before.UpdatedAt.Add(time.Minute) }
	require.NoError(t, svc.ChangePassword(ctx, uid, "secret1", "new-secret"))

	after, err := store.UserByID(ctx, uid)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	_, err = svc.Login(ctx, "alice", "secret1")
	assert.True(t, errors.Is(err, core.ErrInvalidCredentials))
	_, err = svc.Login(ctx, "alice", "new-secret")
	assert.NoError(t, err)

	_, err = svc.Authenticate(oldLogin.Token)
	assert.NoError(t, err, "existing tokens survive a password change")

	err = svc.ChangePassword(ctx, core.NewID(), "secret1", "new-secret")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret1")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "secret1"))
	assert.False(t, CheckPassword(hash, "secret2"))
	assert.False(t, CheckPassword("not-a-hash", "secret1"))
}
