package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/impds-auth/internal/config"
)

func TestNewEndpoints(t *testing.T) {
	cfg := config.NewDefaultConfig().Portal

	ep, err := NewEndpoints(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://impds.nic.in/impdsdeduplication/LoginPage", ep.LoginPage)
	assert.Equal(t, "https://impds.nic.in/impdsdeduplication/ReloadCaptcha", ep.Captcha)
	assert.Equal(t, "https://impds.nic.in/impdsdeduplication/UserLogin", ep.Submit)
	assert.Equal(t, "impds.nic.in", ep.Base.Host)
}

func TestNewEndpoints_TrailingSlashAndRoot(t *testing.T) {
	cfg := config.NewDefaultConfig().Portal
	cfg.BaseURL = "http://127.0.0.1:8080/"

	ep, err := NewEndpoints(cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080/LoginPage", ep.LoginPage)
	assert.Equal(t, "http://127.0.0.1:8080/UserLogin", ep.Submit)
}

func TestNewEndpoints_Relative(t *testing.T) {
	cfg := config.NewDefaultConfig().Portal
	cfg.BaseURL = "/impdsdeduplication"

	_, err := NewEndpoints(cfg)
	assert.Error(t, err)
}
