package fragment

import (
	"bytes"
	"os"
	"strings"
)

// Result is the outcome of merging one category's fragments.
type Result struct {
	// Candidate is the byte-exact concatenation of all fragments in merge
	// order. Nothing is injected between fragments and line terminators are
	// preserved as-is.
	Candidate []byte
	// Sections lists the section identifiers found across all fragments,
	// in the order they were encountered.
	Sections []string
}

// Merge reads the given fragment files in order and concatenates their raw
// bytes into a candidate buffer. While reading, it scans each fragment for
// section header lines of the form "[identifier]" and rejects the merge with
// a DuplicateSectionError if any identifier appears in more than one place.
// Fragments without any section header are valid pass-through content.
func Merge(paths []string) (*Result, error) {
	var buf bytes.Buffer
	var sections []string
	seen := make(map[string]string) // identifier -> file that declared it

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ReadError{Path: path, Err: err}
		}

		for _, id := range sectionHeaders(data) {
			if first, dup := seen[id]; dup {
				return nil, &DuplicateSectionError{
					Identifier: id,
					FirstFile:  first,
					SecondFile: path,
				}
			}
			seen[id] = path
			sections = append(sections, id)
		}

		buf.Write(data)
	}

	return &Result{Candidate: buf.Bytes(), Sections: sections}, nil
}

// sectionHeaders returns the section identifiers declared in data, in order.
// A header is a line whose trimmed content is "[identifier]" with a non-empty
// identifier. Everything else is treated as opaque content; this is a single
// forward scan, not a config-format parser.
func sectionHeaders(data []byte) []string {
	var ids []string
	for len(data) > 0 {
		var line []byte
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i]
			data = data[i+1:]
		} else {
			line = data
			data = nil
		}

		s := strings.TrimSpace(string(line))
		if len(s) > 2 && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			ids = append(ids, s[1:len(s)-1])
		}
	}
	return ids
}
