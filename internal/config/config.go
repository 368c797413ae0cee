// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables that carry the portal credentials. They are bound
// explicitly so they work with or without the IMPDS_ prefix machinery.
const (
	EnvUsername = "IMPDS_USERNAME"
	EnvPassword = "IMPDS_PASSWORD"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Portal      PortalConfig      `mapstructure:"portal" yaml:"portal"`
	Captcha     CaptchaConfig     `mapstructure:"captcha" yaml:"captcha"`
	Login       LoginConfig       `mapstructure:"login" yaml:"login"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"-"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// NetworkConfig tunes the HTTP client used for a login attempt.
type NetworkConfig struct {
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ProxyURL        string `mapstructure:"proxy_url" yaml:"proxy_url"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	MaxRedirects    int    `mapstructure:"max_redirects" yaml:"max_redirects"`
}

// PortalConfig describes the remote login portal: where it lives, which
// field and cookie names it uses and how long each exchange may take.
type PortalConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	LoginPagePath     string        `mapstructure:"login_page_path" yaml:"login_page_path"`
	CaptchaPath       string        `mapstructure:"captcha_path" yaml:"captcha_path"`
	SubmitPath        string        `mapstructure:"submit_path" yaml:"submit_path"`
	CSRFField         string        `mapstructure:"csrf_field" yaml:"csrf_field"`
	CaptchaImageField string        `mapstructure:"captcha_image_field" yaml:"captcha_image_field"`
	AuthErrorField    string        `mapstructure:"auth_error_field" yaml:"auth_error_field"`
	SessionCookie     string        `mapstructure:"session_cookie" yaml:"session_cookie"`
	PageTimeout       time.Duration `mapstructure:"page_timeout" yaml:"page_timeout"`
	CaptchaTimeout    time.Duration `mapstructure:"captcha_timeout" yaml:"captcha_timeout"`
	SubmitTimeout     time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`
}

// CaptchaConfig selects how CAPTCHA challenges are resolved and where the
// diagnostic copy of each image is written.
type CaptchaConfig struct {
	ImagePath string   `mapstructure:"image_path" yaml:"image_path"`
	Solver    string   `mapstructure:"solver" yaml:"solver"`
	Command   []string `mapstructure:"command" yaml:"command"`
}

// Supported CaptchaConfig.Solver values.
const (
	SolverPrompt  = "prompt"
	SolverCommand = "command"
)

// LoginConfig controls how many independent attempts the CLI makes.
type LoginConfig struct {
	Attempts        int           `mapstructure:"attempts" yaml:"attempts"`
	AttemptInterval time.Duration `mapstructure:"attempt_interval" yaml:"attempt_interval"`
}

// CredentialsConfig carries the raw credential sources. It is never written
// back to a config file.
type CredentialsConfig struct {
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	KeyringService string `mapstructure:"keyring_service"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
// Username and password have none.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "impds-auth")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Network --
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.proxy_url", "")
	v.SetDefault("network.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")
	v.SetDefault("network.max_redirects", 10)

	// -- Portal --
	v.SetDefault("portal.base_url", "https://impds.nic.in/impdsdeduplication")
	v.SetDefault("portal.login_page_path", "/LoginPage")
	v.SetDefault("portal.captcha_path", "/ReloadCaptcha")
	v.SetDefault("portal.submit_path", "/UserLogin")
	v.SetDefault("portal.csrf_field", "REQ_CSRF_TOKEN")
	v.SetDefault("portal.captcha_image_field", "captchaBase64")
	v.SetDefault("portal.auth_error_field", "athenticationError") // sic, as sent by the portal
	v.SetDefault("portal.session_cookie", "JSESSIONID")
	v.SetDefault("portal.page_timeout", "10s")
	v.SetDefault("portal.captcha_timeout", "10s")
	v.SetDefault("portal.submit_timeout", "15s")

	// -- Captcha --
	v.SetDefault("captcha.image_path", "/tmp/captcha.png")
	v.SetDefault("captcha.solver", SolverPrompt)

	// -- Login --
	v.SetDefault("login.attempts", 1)
	v.SetDefault("login.attempt_interval", "5s")

	// -- Credentials --
	// Only the keyring service name gets a key, so IMPDS_CREDENTIALS_KEYRING_SERVICE
	// is picked up by AutomaticEnv. It is empty: the keyring is opt-in.
	v.SetDefault("credentials.keyring_service", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	_ = v.BindEnv("credentials.username", EnvUsername)
	_ = v.BindEnv("credentials.password", EnvPassword)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are checked separately by ResolveCredentials because they may
// come from the OS keyring.
func (c *Config) Validate() error {
	if err := c.Portal.Validate(); err != nil {
		return fmt.Errorf("portal configuration invalid: %w", err)
	}
	if err := c.Captcha.Validate(); err != nil {
		return fmt.Errorf("captcha configuration invalid: %w", err)
	}
	if c.Login.Attempts <= 0 {
		return fmt.Errorf("login.attempts must be a positive integer")
	}
	if c.Login.AttemptInterval < 0 {
		return fmt.Errorf("login.attempt_interval must not be negative")
	}
	if c.Network.ProxyURL != "" {
		if _, err := url.Parse(c.Network.ProxyURL); err != nil {
			return fmt.Errorf("network.proxy_url is not a valid URL: %w", err)
		}
	}
	return nil
}

// Validate checks the portal settings.
func (p *PortalConfig) Validate() error {
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", p.BaseURL)
	}
	if p.CSRFField == "" || p.SessionCookie == "" || p.CaptchaImageField == "" || p.AuthErrorField == "" {
		return fmt.Errorf("csrf_field, captcha_image_field, auth_error_field and session_cookie are required")
	}
	if p.PageTimeout <= 0 || p.CaptchaTimeout <= 0 || p.SubmitTimeout <= 0 {
		return fmt.Errorf("page_timeout, captcha_timeout and submit_timeout must be positive durations")
	}
	return nil
}

// Validate checks the CAPTCHA solver selection.
func (c *CaptchaConfig) Validate() error {
	switch strings.ToLower(c.Solver) {
	case SolverPrompt:
		return nil
	case SolverCommand:
		if len(c.Command) == 0 {
			return fmt.Errorf("solver %q requires captcha.command", SolverCommand)
		}
		return nil
	default:
		return fmt.Errorf("unknown solver %q", c.Solver)
	}
}
