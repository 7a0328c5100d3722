package schema

import (
	"path/filepath"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SanitizeIdentifier validates a workflow or run identifier: after stripping
// path components it must contain only letters, digits, hyphens, and
// underscores. Anything else is rejected with an INVALID_IDENTIFIER error
// and must never reach the filesystem layer. This is a security boundary,
// not a convenience check: identifiers become file names.
func SanitizeIdentifier(id string) (string, error) {
	safe := filepath.Base(id)
	if safe != id || !identifierPattern.MatchString(safe) {
		return "", NewErrorf(ErrCodeInvalidIdentifier,
			"invalid identifier %q: only letters, digits, hyphens, and underscores are allowed", id)
	}
	return safe, nil
}
