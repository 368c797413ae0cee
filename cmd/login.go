package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/impds-auth/internal/captcha"
	"github.com/xkilldash9x/impds-auth/internal/config"
	"github.com/xkilldash9x/impds-auth/internal/login"
	"github.com/xkilldash9x/impds-auth/internal/network"
	"github.com/xkilldash9x/impds-auth/internal/observability"
)

// newLoginCmd creates the `login` command. Its flags are bound to v so they
// override the config file and environment.
func newLoginCmd(v *viper.Viper) *cobra.Command {
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Performs the portal login and prints the session cookie value",
		Long: `Performs the IMPDS login handshake: fetches the login page, solves the
CAPTCHA, submits the salted password and prints the JSESSIONID value on
stdout. Credentials are read from IMPDS_USERNAME and IMPDS_PASSWORD (or the
OS keyring when credentials.keyring_service is set).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			session, err := runLogin(cmd.Context(), cfg, cmd.InOrStdin(), cmd.ErrOrStderr(), observability.GetLogger())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.ID)
			return nil
		},
	}

	flags := loginCmd.Flags()
	flags.Int("attempts", 1, "number of independent login attempts")
	flags.Duration("interval", 0, "minimum delay between attempts (default from config)")
	flags.String("solver", "", "captcha solver: prompt or command")
	flags.String("captcha-path", "", "where the captcha image is written")
	flags.String("base-url", "", "portal base URL")

	bindings := map[string]string{
		"login.attempts":         "attempts",
		"login.attempt_interval": "interval",
		"captcha.solver":         "solver",
		"captcha.image_path":     "captcha-path",
		"portal.base_url":        "base-url",
	}
	for key, flag := range bindings {
		// Only fails for unknown flags, which the table above rules out.
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return loginCmd
}

// runLogin resolves everything a login needs and runs up to
// cfg.Login.Attempts fresh orchestrators, paced by a rate limiter.
func runLogin(ctx context.Context, cfg *config.Config, in io.Reader, prompt io.Writer, logger *zap.Logger) (*login.Session, error) {
	creds, err := config.ResolveCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	archive, err := captcha.NewArchive(nil, cfg.Captcha.ImagePath)
	if err != nil {
		return nil, err
	}

	solver, err := newSolver(cfg.Captcha, archive.Path(), in, prompt)
	if err != nil {
		return nil, err
	}

	clientCfg, err := newClientConfig(cfg.Network)
	if err != nil {
		return nil, err
	}

	attempts := max(cfg.Login.Attempts, 1)
	limiter := rate.NewLimiter(rate.Every(cfg.Login.AttemptInterval), 1)

	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return nil, errors.Join(lastErr, err)
			}
			return nil, err
		}

		session, err := attemptOnce(ctx, login.Options{
			Portal:      cfg.Portal,
			Credentials: creds,
			Solver:      solver,
			Archive:     archive,
			Client:      clientCfg,
			Logger:      logger,
		})
		if err == nil {
			return session, nil
		}
		lastErr = err

		if login.ReasonOf(err) == "" || ctx.Err() != nil {
			// Not a login abort (bad options) or the user gave up; retrying won't help.
			return nil, err
		}
		logger.Warn("Login attempt failed",
			zap.Int("attempt", i),
			zap.Int("of", attempts),
			zap.String("reason", string(login.ReasonOf(err))),
		)
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("all %d login attempts failed: %w", attempts, lastErr)
}

// attemptOnce runs one orchestrator to completion. Each attempt gets its
// own session; tokens and cookies are never carried over.
func attemptOnce(ctx context.Context, opts login.Options) (*login.Session, error) {
	o, err := login.New(opts)
	if err != nil {
		return nil, err
	}
	defer o.Close()
	return o.Login(ctx)
}

func newSolver(cc config.CaptchaConfig, imagePath string, in io.Reader, prompt io.Writer) (captcha.Solver, error) {
	switch strings.ToLower(cc.Solver) {
	case config.SolverCommand:
		return captcha.NewCommandSolver(cc.Command)
	case config.SolverPrompt, "":
		return &captcha.PromptSolver{In: in, Out: prompt, ImagePath: imagePath}, nil
	default:
		return nil, fmt.Errorf("unknown captcha solver %q", cc.Solver)
	}
}

func newClientConfig(nc config.NetworkConfig) (*network.ClientConfig, error) {
	clientCfg := network.NewClientConfig()
	clientCfg.IgnoreTLSErrors = nc.IgnoreTLSErrors
	if nc.UserAgent != "" {
		clientCfg.UserAgent = nc.UserAgent
	}
	if nc.MaxRedirects > 0 {
		clientCfg.MaxRedirects = nc.MaxRedirects
	}
	if nc.ProxyURL != "" {
		proxyURL, err := url.Parse(nc.ProxyURL)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid network.proxy_url %q", nc.ProxyURL)
		}
		clientCfg.ProxyURL = proxyURL
	}
	return clientCfg, nil
}
