// Package identity defines the Identity Store Port: the narrow interface
// the SFTP core requires from the persistence layer (spec.md §4.1), the
// records it reads and writes, and the sentinel errors it can return. The
// store itself — and the administrative HTTP API that also consumes this
// port — are external collaborators specified only through this interface
// (spec.md §1).
package identity

import (
	"context"
	"time"
)

// Port is the interface every session-facing component depends on. Every
// method must be safe for concurrent use by multiple sessions; the core
// never assumes exclusive access to the store.
type Port interface {
	// FindUserByUsername returns the user with the given username, or
	// ErrUserNotFound.
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// FindUserByID returns the user with the given id, or
	// ErrUserNotFound.
	FindUserByID(ctx context.Context, id string) (*User, error)

	// UpdateLastLogin sets the user's last_login to when. Store errors
	// here are by policy non-fatal to authentication (spec.md §4.2); the
	// Credential Verifier swallows them.
	UpdateLastLogin(ctx context.Context, id string, when time.Time) error

	// InsertConnection persists a new Connection Record and returns its
	// generated id. Called exactly once per session, at the moment the
	// SFTP subsystem is ready.
	InsertConnection(ctx context.Context, conn *Connection) (string, error)

	// FinalizeConnection marks a Connection Record ended, with the final
	// accumulated byte totals. Called exactly once per session that
	// reached InsertConnection.
	FinalizeConnection(ctx context.Context, id string, endedAt time.Time, bytesUploaded, bytesDownloaded int64) error

	// InsertTransfers appends zero or more Transfer Records atomically.
	// An empty batch is a no-op, never an error.
	InsertTransfers(ctx context.Context, transfers []Transfer) error

	// CreateUser inserts a new user, hashing is the caller's
	// responsibility (identity.User.PasswordHash must already be set).
	// Returns ErrDuplicateUser if the username is taken.
	CreateUser(ctx context.Context, user *User) (string, error)
}
