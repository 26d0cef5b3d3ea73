package models

import "time"

const (
	// VersionField and IDField are always part of an outbound payload.
	VersionField = "__version__"
	IDField      = "_id"
)

// FieldValue is one answered leaf of a submission. Paths inside a repeating
// group carry the 1-based instance index on the group segment, e.g.
// "household[2]/name".
type FieldValue struct {
	Path  string `json:"path"`
	Value string `json:"value"`
}

// Submission is a stored data-collection record. Fields keep the order in
// which they were captured.
type Submission struct {
	ID        string       `json:"id"`
	FormUID   string       `json:"form_uid"`
	OwnerID   string       `json:"owner_id"`
	VersionID string       `json:"version_id"`
	Fields    []FieldValue `json:"fields"`
	CreatedAt time.Time    `json:"created_at"`
}
