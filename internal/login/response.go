package login

import (
	"bytes"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseResult is the outcome of reading a portal response body as JSON.
// It is either Structured, with Fields populated, or NotStructured. A body
// that is not JSON is a normal, expected variant, not an error.
type ParseResult struct {
	Structured bool
	// Fields holds the top-level members when the body is a JSON object.
	// It is nil for other JSON values (arrays, strings, numbers).
	Fields map[string]jsoniter.RawMessage
}

// NotStructured is the ParseResult for bodies that are not JSON.
var NotStructured = ParseResult{}

// ParseResponse classifies body as structured JSON or not.
func ParseResponse(body []byte) ParseResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return NotStructured
	}

	var fields map[string]jsoniter.RawMessage
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return NotStructured
		}
	}
	return ParseResult{Structured: true, Fields: fields}
}

// Field reports whether the top-level member name is present and returns
// its value as text: strings are unquoted, anything else is returned as
// compact JSON.
func (r ParseResult) Field(name string) (string, bool) {
	raw, ok := r.Fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return strings.TrimSpace(string(raw)), true
}
