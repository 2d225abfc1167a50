package sync

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mlutz/fragsyncd/internal/config"
	"github.com/mlutz/fragsyncd/internal/fragment"
	"github.com/mlutz/fragsyncd/internal/git"
)

// Mode of a destination file created for the first time. Merged files may
// contain credentials, so new destinations are owner-only.
const newDestMode = os.FileMode(0600)

// Engine orchestrates the merge of fragment files into their destinations
type Engine struct {
	cfg    *config.Config
	git    git.Client
	logger *slog.Logger
	dryRun bool
}

// NewEngine creates a new sync engine. The git client may be nil when no
// repository source is configured.
func NewEngine(cfg *config.Config, gitClient git.Client, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:    cfg,
		git:    gitClient,
		logger: logger,
		dryRun: dryRun,
	}
}

// Run executes one sync pass over all configured categories. Categories are
// processed independently: a failure in one is recorded in the report and
// does not block the others. The returned error is non-nil if any category
// failed; the report is returned in either case.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.logger.Info("starting sync",
		"categories", len(e.cfg.Categories),
		"dry_run", e.dryRun)

	// Ensure state directory exists
	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    e.dryRun,
		StartedAt: time.Now().UTC(),
	}

	// Fetch fragment repository if one is configured
	if e.cfg.HasRepo() {
		e.logger.Info("fetching fragment repository", "repo", e.cfg.Repo.URL, "ref", e.cfg.Repo.Ref)
		commit, err := e.git.EnsureCheckout(ctx, e.cfg.Repo.URL, e.cfg.Repo.Ref, e.cfg.RepoDir())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout fragment repository: %w", err)
		}
		report.Commit = commit
		e.logger.Info("fragment repository checked out", "commit", commit)
	}

	sourceRoot := e.cfg.SourceRoot()

	for _, cat := range e.cfg.Categories {
		outcome := e.syncCategory(sourceRoot, cat)
		report.Categories = append(report.Categories, outcome)
		e.logOutcome(outcome)
	}

	report.FinishedAt = time.Now().UTC()

	if err := SaveReport(report, e.cfg.ReportFilePath()); err != nil {
		e.logger.Warn("failed to save run report", "error", err)
	}

	if report.Failed() {
		failed := 0
		for _, c := range report.Categories {
			if c.Err != nil {
				failed++
			}
		}
		return report, fmt.Errorf("sync failed for %d of %d categories", failed, len(report.Categories))
	}

	e.logger.Info("sync completed successfully")
	return report, nil
}

// syncCategory merges one category's fragments and, on difference, backs up
// and atomically replaces the destination file. All errors are scoped to
// this category.
func (e *Engine) syncCategory(sourceRoot string, cat config.Category) CategoryOutcome {
	out := CategoryOutcome{Category: cat.Name}

	// Discover fragments in merge order
	files, err := fragment.Discover(sourceRoot, cat.Name)
	if err != nil {
		return failedOutcome(out, err)
	}
	out.Fragments = len(files)
	e.logger.Debug("discovered fragments", "category", cat.Name, "count", len(files))

	// Merge into the candidate buffer, rejecting duplicate sections
	res, err := fragment.Merge(files)
	if err != nil {
		return failedOutcome(out, err)
	}
	out.Sections = res.Sections

	// Compare candidate against the current destination
	current, exists, err := readDestination(cat.Dest)
	if err != nil {
		return failedOutcome(out, err)
	}
	out.Different = !bytes.Equal(res.Candidate, current)

	if !out.Different {
		return out
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would replace destination",
			"category", cat.Name,
			"dest", cat.Dest,
			"bytes", len(res.Candidate))
		return out
	}

	backedUp, err := e.replace(res.Candidate, current, exists, cat.Dest, e.cfg.BackupPath(cat))
	if err != nil {
		return failedOutcome(out, err)
	}
	out.BackedUp = backedUp
	out.Replaced = true
	out.BytesWritten = len(res.Candidate)

	return out
}

// replace backs up the existing destination content and then atomically
// swaps in the candidate. The backup happens first; if it fails the
// destination is not touched. The destination write goes through a temp
// file in the same directory plus rename, so an interrupted run can never
// leave a partially-written destination behind.
func (e *Engine) replace(candidate, current []byte, destExists bool, dest, backup string) (bool, error) {
	mode := newDestMode
	backedUp := false

	// Ensure the destination directory exists before anything else; this
	// never touches the destination file itself.
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, &WriteError{Path: dest, Err: err}
	}

	if destExists {
		info, err := os.Stat(dest)
		if err != nil {
			return false, &BackupError{Path: backup, Err: err}
		}
		mode = info.Mode().Perm()

		if err := os.WriteFile(backup, current, mode); err != nil {
			return false, &BackupError{Path: backup, Err: err}
		}
		backedUp = true
		e.logger.Debug("backup written", "path", backup, "bytes", len(current))
	}

	if err := writeFileAtomic(dest, candidate, mode); err != nil {
		return backedUp, &WriteError{Path: dest, Err: err}
	}

	return backedUp, nil
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers only ever see the old or the new content.
func writeFileAtomic(path string, data []byte, mode fs.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".fragsyncd-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// readDestination returns the destination's current bytes. An absent
// destination is valid (first run) and reads as empty.
func readDestination(path string) (data []byte, exists bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &fragment.ReadError{Path: path, Err: err}
	}
	return data, true, nil
}

// logOutcome logs one category's result at an appropriate level.
func (e *Engine) logOutcome(out CategoryOutcome) {
	if out.Err != nil {
		e.logger.Error("category failed",
			"category", out.Category,
			"kind", out.ErrorKind,
			"error", out.Error)
		return
	}

	if !out.Different {
		e.logger.Info("destination up to date",
			"category", out.Category,
			"fragments", out.Fragments)
		return
	}

	if out.Replaced {
		e.logger.Info("destination replaced",
			"category", out.Category,
			"fragments", out.Fragments,
			"sections", len(out.Sections),
			"bytes", out.BytesWritten,
			"backed_up", out.BackedUp)
		return
	}

	e.logger.Info("difference detected",
		"category", out.Category,
		"fragments", out.Fragments,
		"dry_run", e.dryRun)
}
