package payload

import (
	"regexp"
)

// SubmissionPlaceholder stands for the whole rendered submission in a payload
// template. Any other %path% placeholder stands for the value at that path.
const SubmissionPlaceholder = "%SUBMISSION%"

var placeholderRe = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_./\[\]-]*)%`)

// expand substitutes placeholders in template. Placeholders lookup cannot
// resolve are replaced by empty so a cosmetic template mismatch never blocks
// a delivery.
func expand(template string, submission []byte, lookup func(path string) ([]byte, bool), empty []byte) []byte {
	return placeholderRe.ReplaceAllFunc([]byte(template), func(token []byte) []byte {
		if string(token) == SubmissionPlaceholder {
			return submission
		}
		path := string(token[1 : len(token)-1])
		if value, ok := lookup(path); ok {
			return value
		}
		return empty
	})
}
