package sync

import "fmt"

// BackupError indicates the pre-replace backup copy could not be completed.
// The destination is left untouched when this occurs.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("failed to write backup %s: %v", e.Path, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

// WriteError indicates the candidate could not be written to a temporary
// file or the atomic rename into place failed. The destination keeps its
// prior content; a half-written destination is never observable.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to replace %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
