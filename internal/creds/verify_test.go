package creds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sftpcloud/internal/identity"
)

// fakeStore is a minimal in-memory identity.Port for exercising the
// Credential Verifier without a real database.
type fakeStore struct {
	users          map[string]*identity.User
	lastLoginCalls int
	lastLoginErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*identity.User{}}
}

func (f *fakeStore) FindUserByUsername(_ context.Context, username string) (*identity.User, error) {
	u, ok := f.users[username]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeStore) FindUserByID(_ context.Context, id string) (*identity.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (f *fakeStore) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error {
	f.lastLoginCalls++
	return f.lastLoginErr
}

func (f *fakeStore) InsertConnection(_ context.Context, conn *identity.Connection) (string, error) {
	return conn.ID, nil
}

func (f *fakeStore) FinalizeConnection(_ context.Context, _ string, _ time.Time, _, _ int64) error {
	return nil
}

func (f *fakeStore) InsertTransfers(_ context.Context, _ []identity.Transfer) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, user *identity.User) (string, error) {
	f.users[user.Username] = user
	return user.ID, nil
}

var _ identity.Port = (*fakeStore)(nil)

func TestVerifierAuthenticate(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	store := newFakeStore()
	store.users["alice"] = &identity.User{ID: "u1", Username: "alice", PasswordHash: hash, Active: true}
	store.users["bob"] = &identity.User{ID: "u2", Username: "bob", PasswordHash: hash, Active: false}

	v := New(store)
	ctx := context.Background()

	t.Run("correct password succeeds", func(t *testing.T) {
		store.lastLoginCalls = 0
		user, err := v.Authenticate(ctx, "alice", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, 1, store.lastLoginCalls)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := v.Authenticate(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("unknown user rejected with the same error", func(t *testing.T) {
		_, err := v.Authenticate(ctx, "nobody", "whatever")
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("disabled account rejected", func(t *testing.T) {
		_, err := v.Authenticate(ctx, "bob", "correct horse")
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("last_login failure does not fail authentication", func(t *testing.T) {
		store.lastLoginErr = errors.New("boom")
		defer func() { store.lastLoginErr = nil }()
		user, err := v.Authenticate(ctx, "alice", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "alice", user.Username)
	})
}
