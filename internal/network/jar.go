package network

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// SessionJar is a cookie jar that also remembers where each cookie name was
// last set. Lookup can then find a cookie by name whatever Path the server
// scoped it to, while expiry and domain rules stay with the underlying jar.
type SessionJar struct {
	*cookiejar.Jar

	mu   sync.Mutex
	seen map[string]*url.URL
}

// NewSessionJar creates an empty jar using the public suffix list.
func NewSessionJar() (*SessionJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &SessionJar{Jar: jar, seen: make(map[string]*url.URL)}, nil
}

// SetCookies implements http.CookieJar.
func (j *SessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		scope := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
		if strings.HasPrefix(c.Path, "/") {
			scope.Path = c.Path
		}
		j.seen[c.Name] = scope
	}
}

// Lookup returns the current non-empty value of the named cookie, if the
// jar still holds it.
func (j *SessionJar) Lookup(name string) (string, bool) {
	j.mu.Lock()
	scope, ok := j.seen[name]
	j.mu.Unlock()
	if !ok {
		return "", false
	}
	for _, c := range j.Jar.Cookies(scope) {
		if c.Name == name && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}
