package identitystore

import (
	"context"
	"time"

	"github.com/umputun/sftpcloud/internal/identity"
)

// FindUserByUsername implements identity.Port.
func (s *Store) FindUserByUsername(ctx context.Context, username string) (*identity.User, error) {
	return getByField[identity.User](s.db, ctx, "username", username, identity.ErrUserNotFound)
}

// FindUserByID implements identity.Port.
func (s *Store) FindUserByID(ctx context.Context, id string) (*identity.User, error) {
	return getByField[identity.User](s.db, ctx, "id", id, identity.ErrUserNotFound)
}

// UpdateLastLogin implements identity.Port.
func (s *Store) UpdateLastLogin(ctx context.Context, id string, when time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&identity.User{}).
		Where("id = ?", id).
		Update("last_login", when)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// CreateUser implements identity.Port.
func (s *Store) CreateUser(ctx context.Context, user *identity.User) (string, error) {
	return createWithID(s.db, ctx, user, func(u *identity.User, id string) { u.ID = id }, user.ID, identity.ErrDuplicateUser)
}
