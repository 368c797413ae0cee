package login

import (
	"errors"
	"fmt"
)

// Reason classifies why a login attempt was aborted.
type Reason string

const (
	ReasonNetwork         Reason = "network_error"
	ReasonTokenExtraction Reason = "token_extraction_failed"
	ReasonCaptchaFetch    Reason = "captcha_fetch_failed"
	ReasonCaptchaUnsolved Reason = "captcha_unresolved"
	ReasonSubmit          Reason = "submit_failed"
	ReasonAuthentication  Reason = "authentication_error"
	ReasonNoSession       Reason = "no_session_cookie"
	ReasonAttemptConsumed Reason = "attempt_consumed"
)

// ErrAttemptConsumed is wrapped when Login is called twice on one Orchestrator.
var ErrAttemptConsumed = errors.New("orchestrator already used; tokens are single-use, create a new one")

// Error is the terminal failure of a login attempt.
type Error struct {
	Reason Reason
	// Detail is the portal's own message, when it sent one.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "login aborted: " + string(e.Reason)
	if e.Detail != "" {
		msg += fmt.Sprintf(" (%s)", e.Detail)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf returns the abort reason carried by err, or "" if err is not a login Error.
func ReasonOf(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}

func abort(reason Reason, err error) *Error {
	return &Error{Reason: reason, Err: err}
}
