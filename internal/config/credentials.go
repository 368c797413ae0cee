package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

var (
	// ErrMissingUsername is returned when no username was configured.
	ErrMissingUsername = errors.New("username is required (set " + EnvUsername + ")")
	// ErrMissingPassword is returned when neither the environment nor the keyring supplied a password.
	ErrMissingPassword = errors.New("password is required (set " + EnvPassword + " or credentials.keyring_service)")
)

var keyringGet = keyring.Get

// Credentials is the immutable username/password pair used for one or more
// login attempts.
type Credentials struct {
	Username string
	password string
}

// NewCredentials builds a Credentials value. Both parts must be non-empty.
func NewCredentials(username, password string) (Credentials, error) {
	if username == "" {
		return Credentials{}, ErrMissingUsername
	}
	if password == "" {
		return Credentials{}, ErrMissingPassword
	}
	return Credentials{Username: username, password: password}, nil
}

// Password returns the plaintext password.
func (c Credentials) Password() string { return c.password }

// String never prints the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, Password: [REDACTED]}", c.Username)
}

// ResolveCredentials turns the configured sources into Credentials. The
// environment wins; the OS keyring is consulted only when the password is
// empty and a keyring service is configured.
func ResolveCredentials(cc CredentialsConfig) (Credentials, error) {
	if cc.Username == "" {
		return Credentials{}, ErrMissingUsername
	}

	password := cc.Password
	if password == "" && cc.KeyringService != "" {
		secret, err := keyringGet(cc.KeyringService, cc.Username)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return Credentials{}, fmt.Errorf("no keyring entry for %q in service %q: %w", cc.Username, cc.KeyringService, ErrMissingPassword)
			}
			return Credentials{}, fmt.Errorf("failed to read password from keyring: %w", err)
		}
		password = secret
	}
	return NewCredentials(cc.Username, password)
}
