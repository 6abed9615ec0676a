package identity

import (
	"strings"
	"time"
)

// Role is the privilege level of a User.
type Role string

const (
	// RoleUser is a regular tenant with access confined to its own home
	// subtree.
	RoleUser Role = "user"
	// RoleAdmin is an operator account; the core treats admin and user
	// identically for SFTP purposes, the distinction only matters to the
	// out-of-scope administrative HTTP API.
	RoleAdmin Role = "admin"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the persisted account record described in spec.md §3 ("User
// Record"). HomeDir is always stored already sanitized via
// SanitizeHomeDir — it is relative to the shared root, never absolute.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"not null;default:user;size:50" json:"role"`
	Active       bool       `gorm:"not null;default:true" json:"active"`
	HomeDir      string     `gorm:"not null;size:1024" json:"home_dir"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName pins the table name so migrations don't depend on GORM's
// pluralization heuristics.
func (User) TableName() string { return "users" }

// GetRole returns the user's role as the Role type.
func (u *User) GetRole() Role { return Role(u.Role) }

// SanitizeHomeDir normalizes a candidate home directory the way
// app/services.py's UserService._sanitize_home_dir does: split on both
// separators, drop empty/"."/".." segments, rejoin with "/". Falls back to
// fallback (typically the username) if the result would be empty.
//
// This is distinct from pathjail.Canonicalize: it runs once, at
// user-creation or seed time, against a home directory supplied by an
// operator — not per SFTP request against a client-controlled virtual path.
func SanitizeHomeDir(homeDir, fallback string) string {
	value := strings.ReplaceAll(strings.TrimSpace(homeDir), "\\", "/")
	if value == "" {
		value = fallback
	}

	segments := strings.Split(value, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}

	if len(kept) == 0 {
		return fallback
	}
	return strings.Join(kept, "/")
}
