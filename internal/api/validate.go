package api

import (
	"net/url"
	"strings"

	"github.com/shohag/formhook/internal/faults"
	"github.com/shohag/formhook/internal/models"
)

// validateHook checks a hook against the form it is registered on. Subset
// fields must name a leaf or group of the schema.
func validateHook(h *models.Hook, form *models.Form) error {
	if strings.TrimSpace(h.Name) == "" {
		return faults.NewValidation("name", "name is required")
	}
	u, err := url.Parse(h.Endpoint)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return faults.NewValidation("endpoint", "endpoint must be an absolute HTTP or HTTPS URL")
	}
	if !h.Format.Valid() {
		return faults.NewUnsupportedFormat(string(h.Format))
	}
	for _, path := range h.SubsetFields {
		if path == models.VersionField || path == models.IDField {
			continue
		}
		if !form.HasField(path) {
			return faults.NewValidation("subset_fields", "unknown field "+path)
		}
	}

	auth := h.Settings.Auth
	switch auth.Type {
	case models.AuthNone:
	case models.AuthBasic:
		if auth.Username == "" {
			return faults.NewValidation("settings.auth.username", "username is required for basic auth")
		}
	case models.AuthBearer:
		if auth.Token == "" {
			return faults.NewValidation("settings.auth.token", "token is required for bearer auth")
		}
		if !validHeaderValue(auth.Token) {
			return faults.NewValidation("settings.auth.token", "token must not contain control characters")
		}
	default:
		return faults.NewValidation("settings.auth.type", "auth type must be basic or bearer")
	}
	for k, v := range h.Settings.CustomHeaders {
		if strings.TrimSpace(k) == "" || strings.ContainsAny(k, " :\r\n") {
			return faults.NewValidation("settings.custom_headers", "invalid header name "+k)
		}
		if !validHeaderValue(v) {
			return faults.NewValidation("settings.custom_headers", "invalid value for header "+k)
		}
	}
	return nil
}

// validHeaderValue rejects values the HTTP client would refuse to send.
func validHeaderValue(v string) bool {
	return !strings.ContainsAny(v, "\r\n\x00")
}
