//go:build integration

package integration

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mlutz/fragsyncd/internal/config"
)

// Env is a self-contained filesystem environment for one end-to-end run:
// a fragment source tree, destinations, and a state directory, all under a
// per-test temp root.
type Env struct {
	t         *testing.T
	Root      string
	SourceDir string
	DestDir   string
	StateDir  string
}

// NewEnv creates the environment directories under a fresh temp root.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	root := t.TempDir()
	env := &Env{
		t:         t,
		Root:      root,
		SourceDir: filepath.Join(root, "fragments"),
		DestDir:   filepath.Join(root, "dest"),
		StateDir:  filepath.Join(root, "state"),
	}
	for _, dir := range []string{env.SourceDir, env.DestDir, env.StateDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return env
}

// Config builds a validated configuration with one category per name.
func (e *Env) Config(names ...string) *config.Config {
	e.t.Helper()
	cfg := &config.Config{
		Paths: config.PathsConfig{
			SourceDir: e.SourceDir,
			StateDir:  e.StateDir,
		},
		Sync: config.SyncConfig{BackupSuffix: ".bak"},
	}
	for _, name := range names {
		cfg.Categories = append(cfg.Categories, config.Category{
			Name: name,
			Dest: filepath.Join(e.DestDir, name),
		})
	}
	if err := cfg.Validate(); err != nil {
		e.t.Fatalf("integration config invalid: %v", err)
	}
	return cfg
}

// WriteFragment writes a fragment file into the source directory.
func (e *Env) WriteFragment(name, content string) {
	e.t.Helper()
	if err := os.WriteFile(filepath.Join(e.SourceDir, name), []byte(content), 0600); err != nil {
		e.t.Fatal(err)
	}
}

// Dest returns the current destination content for a category, or "" when
// the destination does not exist yet.
func (e *Env) Dest(category string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.DestDir, category))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		e.t.Fatal(err)
	}
	return string(data)
}

// Backup returns the backup content for a category, or "" when no backup
// exists.
func (e *Env) Backup(category string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.DestDir, category+".bak"))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		e.t.Fatal(err)
	}
	return string(data)
}

// Logger returns a quiet logger for integration runs.
func (e *Env) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
