// Package portal models the remote login portal: the tokens it embeds in its
// login page, its endpoints and its salted password scheme.
package portal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
)

// DefaultCSRFField is the name of the hidden form input carrying the CSRF token.
const DefaultCSRFField = "REQ_CSRF_TOKEN"

var (
	ErrMissingCSRF = errors.New("csrf token not found in login page")
	ErrMissingSalt = errors.New("user salt not found in login page")
)

// saltPattern matches the inline script assignment `USER_SALT = '<value>'`.
var saltPattern = regexp.MustCompile(`USER_SALT\s*=\s*'([^']+)'`)

// Tokens are the single-use values issued with one login page.
type Tokens struct {
	CSRF string
	Salt string
}

// Validate reports which required token is missing, if any.
func (t Tokens) Validate() error {
	var errs []error
	if t.CSRF == "" {
		errs = append(errs, ErrMissingCSRF)
	}
	if t.Salt == "" {
		errs = append(errs, ErrMissingSalt)
	}
	return errors.Join(errs...)
}

// ExtractTokens pulls the CSRF token and user salt out of the login page
// markup. It never fails: a value that cannot be found, including because
// the markup is malformed, comes back empty. An empty csrfField means
// DefaultCSRFField.
func ExtractTokens(markup, csrfField string) Tokens {
	if csrfField == "" {
		csrfField = DefaultCSRFField
	}

	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return Tokens{}
	}

	var tokens Tokens
	if input, err := htmlquery.Query(doc, fmt.Sprintf("//input[@name=%s]", xpathLiteral(csrfField))); err == nil && input != nil {
		tokens.CSRF = htmlquery.SelectAttr(input, "value")
	}

	scripts, err := htmlquery.QueryAll(doc, "//script")
	if err != nil {
		return tokens
	}
	for _, script := range scripts {
		text := htmlquery.InnerText(script)
		if !strings.Contains(text, "USER_SALT") {
			continue
		}
		if m := saltPattern.FindStringSubmatch(text); m != nil {
			tokens.Salt = m[1]
			break
		}
	}
	return tokens
}

// xpathLiteral quotes s for use in an XPath 1.0 expression, which has no
// escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
