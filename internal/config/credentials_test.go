package config

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolveCredentials(t *testing.T) {
	t.Run("environment values", func(t *testing.T) {
		creds, err := ResolveCredentials(CredentialsConfig{Username: "user", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "user", creds.Username)
		assert.Equal(t, "pw", creds.Password())
	})

	t.Run("missing username", func(t *testing.T) {
		_, err := ResolveCredentials(CredentialsConfig{Password: "pw"})
		assert.ErrorIs(t, err, ErrMissingUsername)
	})

	t.Run("missing password without keyring", func(t *testing.T) {
		_, err := ResolveCredentials(CredentialsConfig{Username: "user"})
		assert.ErrorIs(t, err, ErrMissingPassword)
	})

	t.Run("password from keyring", func(t *testing.T) {
		keyring.MockInit()
		require.NoError(t, keyring.Set("impds-auth", "user", "from-keyring"))

		creds, err := ResolveCredentials(CredentialsConfig{Username: "user", KeyringService: "impds-auth"})
		require.NoError(t, err)
		assert.Equal(t, "from-keyring", creds.Password())
	})

	t.Run("environment wins over keyring", func(t *testing.T) {
		keyring.MockInit()
		require.NoError(t, keyring.Set("impds-auth", "user", "from-keyring"))

		creds, err := ResolveCredentials(CredentialsConfig{Username: "user", Password: "from-env", KeyringService: "impds-auth"})
		require.NoError(t, err)
		assert.Equal(t, "from-env", creds.Password())
	})

	t.Run("keyring entry not found", func(t *testing.T) {
		keyring.MockInit()
		_, err := ResolveCredentials(CredentialsConfig{Username: "nobody", KeyringService: "impds-auth"})
		assert.ErrorIs(t, err, ErrMissingPassword)
	})

	t.Run("keyring backend failure", func(t *testing.T) {
		orig := keyringGet
		t.Cleanup(func() { keyringGet = orig })
		keyringGet = func(service, user string) (string, error) {
			return "", errors.New("dbus unavailable")
		}

		_, err := ResolveCredentials(CredentialsConfig{Username: "user", KeyringService: "impds-auth"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dbus unavailable")
	})
}

func TestCredentialsStringRedactsPassword(t *testing.T) {
	creds, err := NewCredentials("user", "hunter2")
	require.NoError(t, err)

	assert.NotContains(t, creds.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", creds), "hunter2")
	assert.Contains(t, creds.String(), "user")
}
