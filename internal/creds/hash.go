package creds

import "golang.org/x/crypto/bcrypt"

// HashPassword returns a bcrypt hash of password, the way
// dittofs's pkg/controlplane/store seeds password_hash.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// comparePassword reports whether password matches hash. A malformed or
// empty hash is treated as a mismatch, never an error that could leak
// timing or existence information beyond "auth failed".
func comparePassword(password, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
