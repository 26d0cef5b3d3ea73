package models

import "time"

// Form is the data-collection form hooks are registered against. Fields holds
// the schema's leaf paths in schema order, groups joined with "/".
type Form struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	VersionID string    `json:"version_id"`
	Fields    []string  `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasField reports whether path is a leaf or a group of the form schema.
func (f *Form) HasField(path string) bool {
	for _, field := range f.Fields {
		if field == path || hasPathPrefix(field, path) {
			return true
		}
	}
	return false
}

func hasPathPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == '/'
}
