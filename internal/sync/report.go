package sync

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/mlutz/fragsyncd/internal/fragment"
)

// Report is the outcome of one complete run, covering every category.
type Report struct {
	RunID      string            `json:"run_id"`
	Commit     string            `json:"commit,omitempty"` // git source only
	DryRun     bool              `json:"dry_run"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Categories []CategoryOutcome `json:"categories"`
}

// CategoryOutcome records what happened for a single category.
type CategoryOutcome struct {
	Category     string   `json:"category"`
	Fragments    int      `json:"fragments"`
	Sections     []string `json:"sections,omitempty"`
	Different    bool     `json:"different"`
	BackedUp     bool     `json:"backed_up"`
	Replaced     bool     `json:"replaced"`
	BytesWritten int      `json:"bytes_written"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	Error        string   `json:"error,omitempty"`

	// Err is the underlying error, kept for callers; the serialized report
	// carries only kind and message.
	Err error `json:"-"`
}

// Error kinds recorded in CategoryOutcome.ErrorKind.
const (
	ErrKindDirectoryNotFound = "directory-not-found"
	ErrKindDuplicateSection  = "duplicate-section"
	ErrKindRead              = "read"
	ErrKindBackup            = "backup"
	ErrKindWrite             = "write"
	ErrKindOther             = "other"
)

// Failed returns true if any category ended in an error.
func (r *Report) Failed() bool {
	for _, c := range r.Categories {
		if c.Err != nil || c.Error != "" {
			return true
		}
	}
	return false
}

// failedOutcome fills the error fields of an outcome from err.
func failedOutcome(out CategoryOutcome, err error) CategoryOutcome {
	out.Err = err
	out.Error = err.Error()
	out.ErrorKind = classifyError(err)
	return out
}

// classifyError maps an error to its reported kind.
func classifyError(err error) string {
	var (
		dirNotFound *fragment.DirectoryNotFoundError
		duplicate   *fragment.DuplicateSectionError
		read        *fragment.ReadError
		backup      *BackupError
		write       *WriteError
	)
	switch {
	case errors.As(err, &dirNotFound):
		return ErrKindDirectoryNotFound
	case errors.As(err, &duplicate):
		return ErrKindDuplicateSection
	case errors.As(err, &read):
		return ErrKindRead
	case errors.As(err, &backup):
		return ErrKindBackup
	case errors.As(err, &write):
		return ErrKindWrite
	default:
		return ErrKindOther
	}
}

// SaveReport persists the report to the given path.
func SaveReport(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// LoadReport reads a previously saved report. Returns nil without error if
// no report exists yet.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	return &report, nil
}
