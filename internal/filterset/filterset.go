// Package filterset implements the glob-based exclusion filter (C2):
// should_exclude(rel_path, patterns) from spec.md §4.2.
package filterset

import (
	"path"
	"path/filepath"
	"strings"
)

// ShouldExclude reports whether relPath matches any of patterns. A path
// matches if any pattern matches any of: the full relative path, its
// basename, or any ancestor path segment. An empty pattern list means
// "accept all" — nothing is excluded.
func ShouldExclude(relPath string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}

	slashPath := filepath.ToSlash(relPath)
	base := path.Base(slashPath)
	segments := strings.Split(slashPath, "/")

	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if matches(pattern, slashPath) || matches(pattern, base) {
			return true
		}
		for _, seg := range segments {
			if matches(pattern, seg) {
				return true
			}
		}
	}
	return false
}

// matches wraps filepath.Match, treating a malformed pattern as a non-match
// rather than propagating the error — an invalid glob should never stop a
// backup run.
func matches(pattern, candidate string) bool {
	ok, err := filepath.Match(pattern, candidate)
	return err == nil && ok
}
