package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sftpcloud/internal/identity"
)

type fakeStore struct {
	users map[string]*identity.User
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

func (f *fakeStore) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeStore) InsertConnection(_ context.Context, c *identity.Connection) (string, error) {
	return c.ID, nil
}

func (f *fakeStore) FinalizeConnection(_ context.Context, _ string, _ time.Time, _, _ int64) error {
	return nil
}

func (f *fakeStore) InsertTransfers(_ context.Context, _ []identity.Transfer) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, user *identity.User) (string, error) {
	if _, exists := f.users[user.Username]; exists {
		return "", identity.ErrDuplicateUser
	}
	user.ID = "generated-id"
	f.users[user.Username] = user
	return user.ID, nil
}

var _ identity.Port = (*fakeStore)(nil)

func TestEnsureDefaultAdminCreatesUserAndHome(t *testing.T) {
	root := t.TempDir()
	store := newFakeStore()

	err := EnsureDefaultAdmin(context.Background(), store, root, "admin", "s3cret!")
	require.NoError(t, err)

	admin, err := store.FindUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, string(identity.RoleAdmin), admin.Role)
	assert.True(t, admin.Active)
	assert.Equal(t, "admin", admin.HomeDir)
	assert.NotEmpty(t, admin.PasswordHash)

	info, err := os.Stat(filepath.Join(root, "admin"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnsureDefaultAdminIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := newFakeStore()

	require.NoError(t, EnsureDefaultAdmin(context.Background(), store, root, "admin", "s3cret!"))
	require.NoError(t, EnsureDefaultAdmin(context.Background(), store, root, "admin", "s3cret!"))

	assert.Len(t, store.users, 1)
}
