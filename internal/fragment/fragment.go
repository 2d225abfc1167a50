package fragment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Fragment files follow the naming convention <category>.<sort-token>.<label>,
// e.g. "credentials.2024-0301.work". The sort token is an opaque string; the
// convention is to use a zero-padded date, but discovery only relies on
// lexicographic ordering of the full filename.

// Prefix returns the filename prefix for a category.
func Prefix(category string) string {
	return category + "."
}

// Matches returns true if name follows the fragment naming convention for
// the given category prefix: <prefix><token>.<label> with a non-empty token
// and label. Anything else is not a fragment and is ignored by discovery.
func Matches(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := strings.TrimPrefix(name, prefix)
	dot := strings.Index(rest, ".")
	return dot > 0 && dot < len(rest)-1
}

// Discover lists the fragment files for a category in dir and returns their
// absolute paths in merge order (ascending lexicographic on filename).
// Non-matching files and subdirectories are ignored. An empty result is
// valid; a missing directory is a DirectoryNotFoundError.
func Discover(dir, category string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &DirectoryNotFoundError{Dir: dir}
		}
		return nil, fmt.Errorf("failed to list fragment directory %s: %w", dir, err)
	}

	prefix := Prefix(category)
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if Matches(entry.Name(), prefix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	// ReadDir already sorts by filename, but merge order is a contract, so
	// sort explicitly rather than relying on enumeration order.
	sort.Strings(files)

	return files, nil
}
