package store

import (
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// reservedSubstring marks schema sidecar files; collections may not use it.
const reservedSubstring = "config"

// IsValidName reports whether name may be used for a database or collection:
// longer than five characters, starting with a letter and containing only
// letters, digits, '-' and '_'.
func IsValidName(name string) bool {
	return len(name) > 5 && namePattern.MatchString(name)
}

// IsReservedCollectionName reports whether name collides with the schema
// sidecar naming scheme.
func IsReservedCollectionName(name string) bool {
	return strings.Contains(name, reservedSubstring)
}
