// Package pathjail implements the two pure functions that stand between a
// client-supplied virtual path and the host filesystem (spec.md §4.3):
// Canonicalize, a POSIX-style path normalizer, and Resolve, which joins a
// canonical path to a session's home directory and verifies the result
// cannot escape it even through a symlink. Grounded on
// server/sftp.go's securePath (single-root, no symlink resolution) and on
// tphakala-birdnet-go's internal/httpcontroller/securefs package, which
// walks up from a not-yet-existing target resolving each parent that is a
// symlink — the pack carries no third-party secure-join library, so this
// stays on path/filepath.
package pathjail

import (
	"path/filepath"
	"strings"
)

// Canonicalize normalizes a client-supplied virtual path into the
// slash-separated, rooted POSIX form the client sees from REALPATH. It
// never touches the filesystem.
func Canonicalize(virtualPath string) string {
	s := strings.ReplaceAll(virtualPath, "\\", "/")

	if len(s) >= 2 && s[1] == ':' && isDriveLetter(s[0]) {
		s = s[2:]
	}

	if s == "" {
		s = "/"
	}

	segments := strings.Split(s, "/")
	stack := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	return "/" + strings.Join(stack, "/")
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Resolve canonicalizes virtualPath, joins it to homeAbsolute, and resolves
// the result against the real filesystem, following symlinks. It fails
// with ErrPathEscape if the resolved path is not homeAbsolute itself or a
// descendant of it — checked after symlink resolution, so a symlink inside
// the jail that points outside it is rejected.
//
// The target need not exist: Resolve walks up from the first existing
// ancestor, the way a file create or rename to a fresh name requires.
func Resolve(virtualPath, homeAbsolute string) (string, error) {
	canon := Canonicalize(virtualPath)
	joined := filepath.Join(homeAbsolute, filepath.FromSlash(strings.TrimPrefix(canon, "/")))

	resolvedHome, err := resolveExisting(homeAbsolute)
	if err != nil {
		return "", err
	}

	resolved, err := resolveAsFarAsPossible(joined)
	if err != nil {
		return "", err
	}

	if resolved != resolvedHome && !strings.HasPrefix(resolved, resolvedHome+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return resolved, nil
}

// resolveExisting fully resolves a path that is expected to already exist
// (the session's home directory).
func resolveExisting(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// resolveAsFarAsPossible resolves symlinks along path, falling back to
// resolving the longest existing ancestor and re-appending the remaining,
// not-yet-created components unresolved.
func resolveAsFarAsPossible(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	var tail []string
	dir := abs
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// reached the filesystem root without finding an existing
			// ancestor; return the cleaned, unresolved path.
			return abs, nil
		}
		tail = append(tail, filepath.Base(dir))
		dir = parent
	}
}

// ResolveHome performs the one-time home-directory resolution at session
// start (spec.md §4.3): sanitizedHomeDir joined to sharedRoot must resolve
// to a descendant of sharedRoot. It is Resolve with the shared root playing
// the role of homeAbsolute.
func ResolveHome(sharedRoot, sanitizedHomeDir string) (string, error) {
	return Resolve("/"+sanitizedHomeDir, sharedRoot)
}
