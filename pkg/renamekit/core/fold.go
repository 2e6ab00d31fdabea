package core

import "strings"

// Fold returns the collision key for a name on the target filesystem.
// Conflict detection and validation must use this same function: a name that
// differs from its source only by case on a case-insensitive filesystem is
// the same file, not a collision.
func Fold(name string, caseSensitive bool) string {
	if caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// CaseOnlyChange reports whether a rename from source to target is purely a
// character-case change under the given sensitivity.
func CaseOnlyChange(source, target string, caseSensitive bool) bool {
	if caseSensitive {
		return false
	}
	return source != target && Fold(source, false) == Fold(target, false)
}
