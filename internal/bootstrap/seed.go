// Package bootstrap seeds the Identity Store on first start (spec.md §6),
// grounded on original_source/app/services.py's ensure_default_admin and
// marmos91/dittofs's store.EnsureAdminUser.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/umputun/sftpcloud/internal/creds"
	"github.com/umputun/sftpcloud/internal/identity"
)

// EnsureDefaultAdmin creates the configured default admin user, with its
// home directory under sharedRoot, if no user with that username exists
// yet. It is idempotent and race-safe: a duplicate-insert raised by a
// concurrent instance racing to seed the same store is treated as success,
// not an error, the way dittofs treats EnsureAdminUser's unique-index race.
func EnsureDefaultAdmin(ctx context.Context, store identity.Port, sharedRoot, username, password string) error {
	if _, err := store.FindUserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, identity.ErrUserNotFound) {
		return fmt.Errorf("bootstrap: checking for default admin: %w", err)
	}

	homeDir := identity.SanitizeHomeDir(username, username)
	if err := os.MkdirAll(filepath.Join(sharedRoot, homeDir), 0o755); err != nil {
		return fmt.Errorf("bootstrap: creating default admin home: %w", err)
	}

	hash, err := creds.HashPassword(password)
	if err != nil {
		return fmt.Errorf("bootstrap: hashing default admin password: %w", err)
	}

	user := &identity.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(identity.RoleAdmin),
		Active:       true,
		HomeDir:      homeDir,
	}

	if _, err := store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, identity.ErrDuplicateUser) {
			return nil
		}
		return fmt.Errorf("bootstrap: creating default admin: %w", err)
	}
	return nil
}
