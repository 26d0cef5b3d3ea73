// Package faults defines the error kinds raised while delivering submissions
// to hooks, as go-errors envelopes carrying a text code and an HTTP status.
package faults

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	UnsupportedFormat  = "UNSUPPORTED_FORMAT"
	SubmissionNotFound = "SUBMISSION_NOT_FOUND"
	SSRFBlocked        = "SSRF_BLOCKED"
	TransportFailure   = "TRANSPORT_FAILURE"
	HTTPError          = "HTTP_ERROR"
	HookNotFound       = "HOOK_NOT_FOUND"
	HookInactive       = "HOOK_INACTIVE"
	FormNotFound       = "FORM_NOT_FOUND"
	LogNotFound        = "LOG_NOT_FOUND"
	InvalidTransition  = "INVALID_TRANSITION"
	Validation         = "VALIDATION"
	Internal           = "INTERNAL_ERROR"
)

func NewUnsupportedFormat(format string) error {
	return goerrors.New(fmt.Sprintf("format %q is not supported", format), goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(UnsupportedFormat)
}

func NewSubmissionNotFound(formUID, submissionID string) error {
	return goerrors.New(
		fmt.Sprintf("submission %q not found for form %q", submissionID, formUID),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(SubmissionNotFound)
}

func NewSSRFBlocked(host, reason string) error {
	return goerrors.New(fmt.Sprintf("destination %q blocked: %s", host, reason), goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(SSRFBlocked).
		WithMetadata(map[string]any{"host": host})
}

func NewTransportFailure(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("request failed: %v", err)).
		WithCode(http.StatusBadGateway).
		WithTextCode(TransportFailure)
}

func NewHTTPError(status int, body string) error {
	return goerrors.New(fmt.Sprintf("endpoint responded with HTTP %d", status), goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(HTTPError).
		WithMetadata(map[string]any{"status_code": status, "body": body})
}

func NewHookNotFound(id string) error {
	return goerrors.New(fmt.Sprintf("hook %q not found", id), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(HookNotFound)
}

func NewHookInactive(id string) error {
	return goerrors.New(fmt.Sprintf("hook %q is not active", id), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(HookInactive)
}

func NewFormNotFound(uid string) error {
	return goerrors.New(fmt.Sprintf("form %q not found", uid), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(FormNotFound)
}

func NewLogNotFound(id string) error {
	return goerrors.New(fmt.Sprintf("hook log %q not found", id), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(LogNotFound)
}

func NewInvalidTransition(from, to string) error {
	return goerrors.New(fmt.Sprintf("cannot move hook log from %s to %s", from, to), goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(InvalidTransition)
}

func NewValidation(field, message string) error {
	return goerrors.NewValidation(fmt.Sprintf("%s: %s", field, message), goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(Validation)
}

func NewInternal(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(Internal)
}

// Code returns the text code of err, or Internal when err carries none.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	return Internal
}

// Status returns the HTTP status an API layer should answer with for err.
func Status(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// Message returns the human readable part of err without the envelope decoration.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.Message) != "" {
		return rich.Message
	}
	return err.Error()
}

// Is reports whether err carries the given text code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Retryable reports whether another delivery attempt may succeed where err failed.
// Only transport failures and non-2xx responses qualify.
func Retryable(err error) bool {
	switch Code(err) {
	case TransportFailure, HTTPError:
		return true
	}
	return false
}
