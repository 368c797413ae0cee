// File: internal/network/httpclient.go
package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Constants for the portal client. The per-request deadlines of the login
// flow are set with contexts; RequestTimeout is only a backstop.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultRequestTimeout        = 60 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxRedirects          = 10

	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// DefaultHeaders are sent with every request unless the request sets them itself.
var DefaultHeaders = map[string]string{
	"Accept":           "application/json, text/javascript, */*; q=0.01",
	"Accept-Language":  "en-US,en;q=0.9",
	"X-Requested-With": "XMLHttpRequest",
}

// ClientConfig holds the configuration for one portal session's HTTP client.
type ClientConfig struct {
	IgnoreTLSErrors bool
	TLSConfig       *tls.Config

	RequestTimeout time.Duration
	MaxRedirects   int

	DialerConfig *DialerConfig
	ProxyURL     *url.URL

	UserAgent string
	Headers   map[string]string

	Logger *zap.Logger
}

// NewClientConfig returns defaults suitable for talking to the login portal.
func NewClientConfig() *ClientConfig {
	headers := make(map[string]string, len(DefaultHeaders))
	for k, v := range DefaultHeaders {
		headers[k] = v
	}
	return &ClientConfig{
		RequestTimeout: DefaultRequestTimeout,
		MaxRedirects:   DefaultMaxRedirects,
		DialerConfig:   NewDialerConfig(),
		UserAgent:      DefaultUserAgent,
		Headers:        headers,
		Logger:         zap.NewNop(),
	}
}

// NewHTTPTransport creates the base http.Transport.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewClientConfig()
	}
	dialerConfig := config.DialerConfig
	if dialerConfig == nil {
		dialerConfig = NewDialerConfig()
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialTCPContext(ctx, network, addr, dialerConfig)
		},
		TLSClientConfig:       configureTLS(config),
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   2,
		// CompressionMiddleware owns Accept-Encoding and decoding.
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}
	return transport
}

// NewClient creates an http.Client with its own *SessionJar, transport and
// TLS session cache. Every call returns an independent session.
func NewClient(config *ClientConfig) (*http.Client, error) {
	if config == nil {
		config = NewClientConfig()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	jar, err := NewSessionJar()
	if err != nil {
		return nil, err
	}

	var rt http.RoundTripper = NewHTTPTransport(config)
	rt = NewCompressionMiddleware(rt)
	rt = &headerMiddleware{transport: rt, userAgent: config.UserAgent, headers: config.Headers}

	maxRedirects := config.MaxRedirects
	logger := config.Logger
	return &http.Client{
		Transport: rt,
		Timeout:   config.RequestTimeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			logger.Debug("Following redirect", zap.String("location", req.URL.Redacted()))
			return nil
		},
	}, nil
}

// headerMiddleware fills in default headers the caller did not set.
type headerMiddleware struct {
	transport http.RoundTripper
	userAgent string
	headers   map[string]string
}

func (h *headerMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if h.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	for k, v := range h.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.transport.RoundTrip(req)
}

// configureTLS builds a TLS 1.2+ configuration, honouring a caller supplied
// base config and the verification override.
func configureTLS(config *ClientConfig) *tls.Config {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{}
	}

	if tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}
	if tlsConfig.ClientSessionCache == nil {
		tlsConfig.ClientSessionCache = tls.NewLRUClientSessionCache(16)
	}
	if config.IgnoreTLSErrors {
		tlsConfig.InsecureSkipVerify = true
	}
	return tlsConfig
}
