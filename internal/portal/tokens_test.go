package portal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

const loginPage = `<!DOCTYPE html>
<html>
<head>
  <title>IMPDS Deduplication</title>
  <script src="/static/jquery.min.js"></script>
  <script type="text/javascript">
    var CONTEXT = '/impdsdeduplication';
    var USER_SALT = 'f1d2d2f924e986ac86fdf7b36c94bcdf';
  </script>
</head>
<body>
  <form id="loginForm" method="post" action="UserLogin">
    <input type="text" name="userName"/>
    <input type="password" name="password"/>
    <input type="hidden" name="REQ_CSRF_TOKEN" value="8c1f0a7e-55aa-4d0c-9c5e-0d61f3b5a2c1"/>
  </form>
</body>
</html>`

func TestExtractTokens(t *testing.T) {
	cases := []struct {
		name   string
		markup string
		field  string
		want   Tokens
	}{
		{
			name:   "well formed page",
			markup: loginPage,
			want:   Tokens{CSRF: "8c1f0a7e-55aa-4d0c-9c5e-0d61f3b5a2c1", Salt: "f1d2d2f924e986ac86fdf7b36c94bcdf"},
		},
		{
			name:   "compact formatting",
			markup: `<form><input name="REQ_CSRF_TOKEN" value="tok"></form><script>USER_SALT='s4lt';</script>`,
			want:   Tokens{CSRF: "tok", Salt: "s4lt"},
		},
		{
			name: "loose whitespace around assignment",
			markup: "<input value='tok' type='hidden' name='REQ_CSRF_TOKEN'>" +
				"<script>\n\tUSER_SALT    =\n   'abc123'\n</script>",
			want: Tokens{CSRF: "tok", Salt: "abc123"},
		},
		{
			name:   "first matching script wins",
			markup: `<script>var USER_SALT = 'first';</script><script>var USER_SALT = 'second';</script>`,
			want:   Tokens{Salt: "first"},
		},
		{
			name:   "script mentioning USER_SALT without assignment is skipped",
			markup: `<script>console.log(USER_SALT)</script><script>USER_SALT = 'real'</script>`,
			want:   Tokens{Salt: "real"},
		},
		{
			name:   "double quoted salt is not an assignment match",
			markup: `<script>USER_SALT = "nope"</script>`,
			want:   Tokens{},
		},
		{
			name:   "csrf input without value",
			markup: `<input type="hidden" name="REQ_CSRF_TOKEN"><script>USER_SALT = 'x'</script>`,
			want:   Tokens{Salt: "x"},
		},
		{
			name:   "custom field name",
			markup: `<input name="_csrf" value="alt"><input name="REQ_CSRF_TOKEN" value="default">`,
			field:  "_csrf",
			want:   Tokens{CSRF: "alt"},
		},
		{
			name:   "field name containing a quote",
			markup: `<input name="it's" value="odd">`,
			field:  "it's",
			want:   Tokens{CSRF: "odd"},
		},
		{
			name:   "empty page",
			markup: "",
			want:   Tokens{},
		},
		{
			name:   "malformed markup keeps what is recoverable",
			markup: `<html><body><form><input name="REQ_CSRF_TOKEN" value="tok" <script>USER_SALT = 'x`,
			want:   Tokens{CSRF: "tok"},
		},
		{
			name:   "salt outside script is ignored",
			markup: `<p>USER_SALT = 'visible-text'</p>`,
			want:   Tokens{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractTokens(tc.markup, tc.field)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ExtractTokens() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractTokens_GarbageNeverPanics(t *testing.T) {
	inputs := []string{
		"\x00\x01\x02<<<>>>",
		"<script>",
		"</script></script><input>",
		"<input name=REQ_CSRF_TOKEN value=",
		string([]byte{0xff, 0xfe, 0xfd}),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { ExtractTokens(in, "") })
	}
}

func TestTokensValidate(t *testing.T) {
	assert.NoError(t, Tokens{CSRF: "c", Salt: "s"}.Validate())

	err := Tokens{Salt: "s"}.Validate()
	assert.ErrorIs(t, err, ErrMissingCSRF)
	assert.NotErrorIs(t, err, ErrMissingSalt)

	err = Tokens{CSRF: "c"}.Validate()
	assert.ErrorIs(t, err, ErrMissingSalt)

	err = Tokens{}.Validate()
	assert.ErrorIs(t, err, ErrMissingCSRF)
	assert.ErrorIs(t, err, ErrMissingSalt)
}
