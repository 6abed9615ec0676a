package identity

import "errors"

// Sentinel errors returned by the Identity Store Port. Callers compare with
// errors.Is; the store's concrete backend returns these values as they are.
var (
	// ErrUserNotFound is returned when no user matches the requested
	// username or id.
	ErrUserNotFound = errors.New("identity: user not found")

	// ErrDuplicateUser is returned when a username uniqueness constraint
	// would be violated by an insert.
	ErrDuplicateUser = errors.New("identity: user already exists")

	// ErrConnectionNotFound is returned when a connection id does not
	// match any stored Connection Record.
	ErrConnectionNotFound = errors.New("identity: connection not found")

	// ErrInvalidHomeDir names the case of a sanitized home directory that
	// does not resolve to a descendant of the shared root. Nothing in this
	// module returns it: the session's home check (pathjail.ResolveHome)
	// reports that case as pathjail.ErrPathEscape.
	ErrInvalidHomeDir = errors.New("identity: home directory escapes shared root")
)
