package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates the submitted username/password pair does
// not match the configured credential.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// CredentialVerifier checks a login attempt against the single configured
// credential pair. When the stored password looks like a bcrypt hash it is
// compared with bcrypt, otherwise with a constant-time equality check.
type CredentialVerifier struct {
	username string
	password string
}

// NewCredentialVerifier builds a verifier for the configured pair.
func NewCredentialVerifier(username, password string) *CredentialVerifier {
	return &CredentialVerifier{username: username, password: password}
}

// Verify returns nil when the attempt matches the configured credential.
func (v *CredentialVerifier) Verify(username, password string) error {
	if subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) != 1 {
		return ErrInvalidCredentials
	}
	if isBcryptHash(v.password) {
		if err := bcrypt.CompareHashAndPassword([]byte(v.password), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(v.password)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") ||
		strings.HasPrefix(value, "$2b$") ||
		strings.HasPrefix(value, "$2y$")
}
