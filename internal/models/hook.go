package models

import "time"

type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatXML  ExportFormat = "xml"
)

func (f ExportFormat) Valid() bool {
	return f == FormatJSON || f == FormatXML
}

type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

type HookAuth struct {
	Type     AuthType `json:"type,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Token    string   `json:"token,omitempty"`
}

type HookSettings struct {
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
	Auth          HookAuth          `json:"auth,omitempty"`
	// Secret signs outbound payloads when set.
	Secret string `json:"secret,omitempty"`
}

type Hook struct {
	ID              string       `json:"id"`
	FormUID         string       `json:"form_uid"`
	Name            string       `json:"name"`
	Endpoint        string       `json:"endpoint"`
	Active          bool         `json:"active"`
	Format          ExportFormat `json:"export_type"`
	SubsetFields    []string     `json:"subset_fields"`
	PayloadTemplate string       `json:"payload_template,omitempty"`
	Settings        HookSettings `json:"settings"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}
