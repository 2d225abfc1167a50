package fragment

import "fmt"

// DirectoryNotFoundError indicates a configured fragment directory does not
// exist. Distinct from a directory that exists but contains no fragments.
type DirectoryNotFoundError struct {
	Dir string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("fragment directory does not exist: %s", e.Dir)
}

// DuplicateSectionError indicates two fragments of the same category declare
// the same section identifier. The merge is aborted before producing any
// output, so the destination is never touched.
type DuplicateSectionError struct {
	Identifier string
	FirstFile  string
	SecondFile string
}

func (e *DuplicateSectionError) Error() string {
	return fmt.Sprintf("duplicate section [%s]: declared in %s and %s", e.Identifier, e.FirstFile, e.SecondFile)
}

// ReadError indicates a fragment or destination file could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
