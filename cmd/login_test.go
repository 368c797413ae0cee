package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/xkilldash9x/impds-auth/internal/config"
	"github.com/xkilldash9x/impds-auth/internal/login"
	"github.com/xkilldash9x/impds-auth/internal/observability"
)

// portalStub serves a minimal portal. failFirst makes the first submission
// return an authentication error.
type portalStub struct {
	pages     atomic.Int32
	submits   atomic.Int32
	failFirst bool
}

func (p *portalStub) start(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/LoginPage", func(w http.ResponseWriter, _ *http.Request) {
		n := p.pages.Add(1)
		fmt.Fprintf(w, `<input name="REQ_CSRF_TOKEN" value="tok-%d"><script>var USER_SALT = 'salt';</script>`, n)
	})
	mux.HandleFunc("/ReloadCaptcha", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"captchaBase64":"%s"}`, base64.StdEncoding.EncodeToString([]byte("png-bytes")))
	})
	mux.HandleFunc("/UserLogin", func(w http.ResponseWriter, _ *http.Request) {
		n := p.submits.Add(1)
		if p.failFirst && n == 1 {
			fmt.Fprint(w, `{"athenticationError":"Invalid Captcha"}`)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "SESSION-42", Path: "/"})
		fmt.Fprint(w, "<html>home</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func setupCLI(t *testing.T) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("IMPDS_LOGGER_LEVEL", "fatal")
	t.Setenv(config.EnvUsername, "officer")
	t.Setenv(config.EnvPassword, "pw")
}

func executeCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestLoginCmd_PrintsSessionID(t *testing.T) {
	setupCLI(t)
	stub := &portalStub{}
	baseURL := stub.start(t)
	imagePath := filepath.Join(t.TempDir(), "captcha.png")

	stdout, stderr, err := executeCLI(t, "ab12\n", "login", "--base-url", baseURL, "--captcha-path", imagePath)
	require.NoError(t, err)
	assert.Equal(t, "SESSION-42\n", stdout, "stdout carries only the session id")
	assert.Contains(t, stderr, "CAPTCHA saved to "+imagePath)
	assert.Contains(t, stderr, "Enter CAPTCHA text:")

	data, err := afero.ReadFile(afero.NewOsFs(), imagePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestLoginCmd_RetriesWithFreshAttempt(t *testing.T) {
	setupCLI(t)
	stub := &portalStub{failFirst: true}
	baseURL := stub.start(t)

	stdout, _, err := executeCLI(t, "bad1\ngood\n",
		"login", "--base-url", baseURL, "--attempts", "2", "--interval", "1ms",
		"--captcha-path", filepath.Join(t.TempDir(), "c.png"))
	require.NoError(t, err)
	assert.Equal(t, "SESSION-42\n", stdout)
	assert.EqualValues(t, 2, stub.pages.Load(), "the second attempt fetches a new login page")
	assert.EqualValues(t, 2, stub.submits.Load())
}

func TestLoginCmd_SingleAttemptFailure(t *testing.T) {
	setupCLI(t)
	stub := &portalStub{failFirst: true}
	baseURL := stub.start(t)

	stdout, _, err := executeCLI(t, "bad1\n",
		"login", "--base-url", baseURL, "--captcha-path", filepath.Join(t.TempDir(), "c.png"))
	require.Error(t, err)
	assert.Empty(t, stdout)
	assert.Equal(t, login.ReasonAuthentication, login.ReasonOf(err))
	assert.EqualValues(t, 1, stub.pages.Load(), "no retry unless asked for")
}

func TestLoginCmd_MissingCredentials(t *testing.T) {
	setupCLI(t)
	t.Setenv(config.EnvPassword, "")

	_, _, err := executeCLI(t, "", "login", "--base-url", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMissingPassword)
}

func TestLoginCmd_KeyringPassword(t *testing.T) {
	setupCLI(t)
	keyring.MockInit()
	require.NoError(t, keyring.Set("impds-test", "officer", "from-keyring"))
	t.Setenv(config.EnvPassword, "")
	t.Setenv("IMPDS_CREDENTIALS_KEYRING_SERVICE", "impds-test")

	stub := &portalStub{}
	baseURL := stub.start(t)
	stdout, _, err := executeCLI(t, "x\n", "login", "--base-url", baseURL,
		"--captcha-path", filepath.Join(t.TempDir(), "c.png"))
	require.NoError(t, err)
	assert.Equal(t, "SESSION-42\n", stdout)
}

func TestLoginCmd_InvalidSolver(t *testing.T) {
	setupCLI(t)

	_, _, err := executeCLI(t, "", "login", "--solver", "ocr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown solver "ocr"`)
}

func TestLoginCmd_RejectsArgs(t *testing.T) {
	setupCLI(t)

	_, _, err := executeCLI(t, "", "login", "extra")
	assert.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	stdout, _, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)

	stdout, _, err = executeCLI(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", stdout)
}

func TestNewClientConfig(t *testing.T) {
	cc, err := newClientConfig(config.NetworkConfig{UserAgent: "ua/1", MaxRedirects: 3, ProxyURL: "http://proxy:8080"})
	require.NoError(t, err)
	assert.Equal(t, "ua/1", cc.UserAgent)
	assert.Equal(t, 3, cc.MaxRedirects)
	require.NotNil(t, cc.ProxyURL)
	assert.Equal(t, "proxy:8080", cc.ProxyURL.Host)

	_, err = newClientConfig(config.NetworkConfig{ProxyURL: "::bad"})
	assert.Error(t, err)
}
