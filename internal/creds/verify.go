// Package creds implements the Credential Verifier (spec.md §4.2): it turns
// a username/password pair into an authenticated identity.User, or a single
// opaque rejection, never distinguishing "no such user" from "wrong
// password" or "account disabled" to a caller. Grounded on
// original_source/app/services.py's UserService.authenticate and
// marmos91/dittofs's pkg/controlplane/store.ValidateCredentials.
package creds

import (
	"context"
	"errors"
	"time"

	"github.com/umputun/sftpcloud/internal/identity"
)

// ErrAuthFailed is returned for every rejection reason: unknown username,
// disabled account, or password mismatch. The SSH PasswordCallback must
// never leak which of these occurred.
var ErrAuthFailed = errors.New("creds: authentication failed")

// Verifier authenticates SFTP clients against an identity.Port.
type Verifier struct {
	store identity.Port
}

// New builds a Verifier backed by store.
func New(store identity.Port) *Verifier {
	return &Verifier{store: store}
}

// Authenticate looks up username, compares password against its bcrypt
// hash, and, on success, best-effort records the login timestamp. A store
// error while recording last_login never fails authentication (spec.md
// §4.2): the session has already been earned.
func (v *Verifier) Authenticate(ctx context.Context, username, password string) (*identity.User, error) {
	user, err := v.store.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrAuthFailed
		}
		return nil, err
	}

	if !user.Active {
		return nil, ErrAuthFailed
	}

	if !comparePassword(password, user.PasswordHash) {
		return nil, ErrAuthFailed
	}

	_ = v.store.UpdateLastLogin(ctx, user.ID, time.Now().UTC())

	return user, nil
}
