package portal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/impds-auth/internal/config"
)

// Endpoints are the absolute URLs of the three portal exchanges.
type Endpoints struct {
	Base      *url.URL
	LoginPage string
	Captcha   string
	Submit    string
}

// NewEndpoints resolves the configured paths against the base URL. Paths are
// appended to the base path, so a base of https://host/app and a path of
// /LoginPage yields https://host/app/LoginPage.
func NewEndpoints(cfg config.PortalConfig) (Endpoints, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return Endpoints{}, fmt.Errorf("invalid portal base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return Endpoints{}, fmt.Errorf("portal base url %q must be absolute", cfg.BaseURL)
	}

	join := func(path string) string {
		return base.JoinPath(path).String()
	}
	return Endpoints{
		Base:      base,
		LoginPage: join(cfg.LoginPagePath),
		Captcha:   join(cfg.CaptchaPath),
		Submit:    join(cfg.SubmitPath),
	}, nil
}
