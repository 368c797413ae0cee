// Package login drives the portal's login handshake: page fetch, token
// extraction, CAPTCHA, salted password submission and session retrieval.
package login

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/impds-auth/internal/captcha"
	"github.com/xkilldash9x/impds-auth/internal/config"
	"github.com/xkilldash9x/impds-auth/internal/network"
	"github.com/xkilldash9x/impds-auth/internal/observability"
	"github.com/xkilldash9x/impds-auth/internal/portal"
)

// maxBodySize bounds how much of any portal response is read.
const maxBodySize = 4 << 20

// Form field names expected by the submit endpoint.
const (
	fieldUserName = "userName"
	fieldPassword = "password"
	fieldCaptcha  = "captcha"
)

// Session is a successful login.
type Session struct {
	ID         string
	CookieName string
	AttemptID  string
}

// Options configures an Orchestrator.
type Options struct {
	Portal      config.PortalConfig
	Credentials config.Credentials
	Solver      captcha.Solver
	// Archive receives each CAPTCHA image before it is solved. Optional.
	Archive *captcha.Archive
	// Client overrides the HTTP client config. Optional.
	Client *network.ClientConfig
	Logger *zap.Logger
}

// Orchestrator performs exactly one login attempt. It owns its HTTP client
// and cookie jar; nothing is shared with other orchestrators.
type Orchestrator struct {
	portal    config.PortalConfig
	endpoints portal.Endpoints
	creds     config.Credentials
	solver    captcha.Solver
	archive   *captcha.Archive
	client    *http.Client
	logger    *zap.Logger
	attemptID string
	used      atomic.Bool
}

// New builds an Orchestrator with a fresh session.
func New(opts Options) (*Orchestrator, error) {
	if opts.Solver == nil {
		return nil, errors.New("login: a captcha solver is required")
	}
	if opts.Credentials.Username == "" || opts.Credentials.Password() == "" {
		return nil, errors.New("login: credentials are required")
	}
	if err := opts.Portal.Validate(); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	endpoints, err := portal.NewEndpoints(opts.Portal)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	attemptID := uuid.New().String()
	logger = logger.Named("login").With(zap.String("attempt_id", attemptID))

	clientCfg := network.NewClientConfig()
	if opts.Client != nil {
		c := *opts.Client
		clientCfg = &c
	}
	clientCfg.Logger = logger.Named("http")
	client, err := network.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	return &Orchestrator{
		portal:    opts.Portal,
		endpoints: endpoints,
		creds:     opts.Credentials,
		solver:    opts.Solver,
		archive:   opts.Archive,
		client:    client,
		logger:    logger,
		attemptID: attemptID,
	}, nil
}

// AttemptID identifies this attempt in logs.
func (o *Orchestrator) AttemptID() string { return o.attemptID }

// Close releases idle connections held by the session.
func (o *Orchestrator) Close() {
	o.client.CloseIdleConnections()
}

// Login runs the handshake. On failure the returned error is a *Error
// whose Reason names the state that failed; no later state is entered.
func (o *Orchestrator) Login(ctx context.Context) (session *Session, err error) {
	if !o.used.CompareAndSwap(false, true) {
		return nil, abort(ReasonAttemptConsumed, ErrAttemptConsumed)
	}

	// stage is the reason reported if the running step panics, typically
	// inside a caller supplied Solver.
	stage := ReasonNetwork
	defer func() {
		if r := recover(); r != nil {
			session = nil
			err = abort(stage, fmt.Errorf("panic during %s step: %v", stage, r))
		}
		if err != nil {
			o.logger.Warn("Login aborted", zap.String("reason", string(ReasonOf(err))), zap.Error(err))
		}
	}()

	o.logger.Info("Attempting login", zap.String("username", o.creds.Username), zap.String("portal", o.endpoints.Base.Redacted()))

	o.logger.Debug("Fetching login page", zap.String("url", o.endpoints.LoginPage))
	page, err := o.fetchLoginPage(ctx)
	if err != nil {
		return nil, abort(ReasonNetwork, err)
	}

	stage = ReasonTokenExtraction
	tokens := portal.ExtractTokens(page, o.portal.CSRFField)
	if err := tokens.Validate(); err != nil {
		return nil, abort(ReasonTokenExtraction, err)
	}
	o.logger.Debug("Extracted login tokens", zap.String("csrf", observability.Truncate(tokens.CSRF, 6)))

	stage = ReasonCaptchaFetch
	o.logger.Debug("Fetching captcha", zap.String("url", o.endpoints.Captcha))
	challenge, err := o.fetchCaptcha(ctx)
	if err != nil {
		return nil, abort(ReasonCaptchaFetch, err)
	}

	stage = ReasonCaptchaUnsolved
	guess, err := o.resolveCaptcha(ctx, challenge)
	if err != nil {
		return nil, abort(ReasonCaptchaUnsolved, err)
	}

	stage = ReasonSubmit
	salted := portal.SaltedPassword(tokens.Salt, o.creds.Password())

	o.logger.Debug("Submitting credentials", zap.String("url", o.endpoints.Submit))
	body, err := o.submit(ctx, tokens.CSRF, salted, guess)
	if err != nil {
		return nil, abort(ReasonSubmit, err)
	}

	stage = ReasonAuthentication
	result := ParseResponse(body)
	if result.Structured {
		if detail, ok := result.Field(o.portal.AuthErrorField); ok {
			return nil, &Error{Reason: ReasonAuthentication, Detail: detail}
		}
	} else {
		o.logger.Debug("Login response is not JSON; checking session cookie")
	}

	stage = ReasonNoSession
	id := o.sessionCookie()
	if id == "" {
		return nil, abort(ReasonNoSession, fmt.Errorf("cookie %s not set by portal", o.portal.SessionCookie))
	}

	o.logger.Info("Login successful", zap.String("session", observability.Truncate(id, 4)))
	return &Session{ID: id, CookieName: o.portal.SessionCookie, AttemptID: o.attemptID}, nil
}

// fetchLoginPage is the FETCH_PAGE step. The status code is not checked:
// an error page simply yields no tokens.
func (o *Orchestrator) fetchLoginPage(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.portal.PageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoints.LoginPage, nil)
	if err != nil {
		return "", err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching login page: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login page: %w", err)
	}
	return string(body), nil
}

// fetchCaptcha is the FETCH_CAPTCHA step.
func (o *Orchestrator) fetchCaptcha(ctx context.Context) (captcha.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, o.portal.CaptchaTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoints.Captcha, nil)
	if err != nil {
		return captcha.Challenge{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return captcha.Challenge{}, fmt.Errorf("requesting captcha: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return captcha.Challenge{}, fmt.Errorf("captcha endpoint returned %s", resp.Status)
	}
	body, err := readBody(resp.Body)
	if err != nil {
		return captcha.Challenge{}, fmt.Errorf("reading captcha response: %w", err)
	}

	result := ParseResponse(body)
	if !result.Structured {
		return captcha.Challenge{}, errors.New("captcha response is not JSON")
	}
	encoded, ok := result.Field(o.portal.CaptchaImageField)
	if !ok || encoded == "" {
		return captcha.Challenge{}, fmt.Errorf("captcha response has no %q field", o.portal.CaptchaImageField)
	}
	return captcha.DecodeChallenge(encoded)
}

// resolveCaptcha is the RESOLVE_CAPTCHA step. Archiving is best effort.
func (o *Orchestrator) resolveCaptcha(ctx context.Context, challenge captcha.Challenge) (string, error) {
	if o.archive != nil {
		if err := o.archive.Save(challenge.Image); err != nil {
			o.logger.Warn("Could not archive captcha image", zap.Error(err))
		} else {
			o.logger.Info("Captcha image saved", zap.String("path", o.archive.Path()))
		}
	}

	guess, err := o.solver.Solve(ctx, challenge.Image)
	if err != nil {
		return "", err
	}
	guess = strings.TrimSpace(guess)
	if guess == "" {
		return "", captcha.ErrUnsolved
	}
	return guess, nil
}

// submit is the SUBMIT_LOGIN step. Like the page fetch, the status code is
// left to the response interpretation and cookie check.
func (o *Orchestrator) submit(ctx context.Context, csrf, saltedPassword, guess string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.portal.SubmitTimeout)
	defer cancel()

	form := url.Values{}
	form.Set(fieldUserName, o.creds.Username)
	form.Set(fieldPassword, saltedPassword)
	form.Set(fieldCaptcha, guess)
	form.Set(o.portal.CSRFField, csrf)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoints.Submit, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting login form: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading login response: %w", err)
	}
	o.logger.Debug("Login response received", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))
	return body, nil
}

// sessionCookie is the EXTRACT_SESSION step. The cookie is looked up by
// name across the whole jar: servlet containers scope it to the context
// path ("/app/") or deeper, which a lookup of the bare base URL misses.
func (o *Orchestrator) sessionCookie() string {
	name := o.portal.SessionCookie
	if jar, ok := o.client.Jar.(*network.SessionJar); ok {
		if id, ok := jar.Lookup(name); ok {
			return id
		}
	}

	candidates := []*url.URL{o.endpoints.Base, o.endpoints.Base.JoinPath("/")}
	if submit, err := url.Parse(o.endpoints.Submit); err == nil {
		candidates = append(candidates, submit)
	}
	for _, u := range candidates {
		for _, c := range o.client.Jar.Cookies(u) {
			if c.Name == name && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

func readBody(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBodySize))
}
