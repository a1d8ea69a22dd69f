package volume

import (
	"path/filepath"
	"strings"
)

// IsWithin reports whether candidate lies strictly inside base. Both
// paths are cleaned before comparison, so "a/../b" tricks do not
// escape. The base itself does not count as within.
//
// Every physical path a volume touches must pass this check before any
// I/O. A failure is a programming error in path construction, surfaced
// as ErrPathOutsideVolume, never as a missing file.
func IsWithin(base, candidate string) bool {
	base = filepath.Clean(base)
	candidate = filepath.Clean(candidate)
	if base == candidate {
		return false
	}

	rel, err := filepath.Rel(base, candidate)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
