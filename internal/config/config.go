package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBackupSuffix is appended to a category's destination path when no
// explicit backup path is configured.
const DefaultBackupSuffix = ".bak"

// Config represents the complete fragsyncd configuration
type Config struct {
	Repo       RepoConfig  `yaml:"repo"`
	Auth       AuthConfig  `yaml:"auth"`
	Paths      PathsConfig `yaml:"paths"`
	Sync       SyncConfig  `yaml:"sync"`
	Categories []Category  `yaml:"categories"`
	Serve      ServeConfig `yaml:"serve"`
}

// RepoConfig configures an optional Git repository as the fragment source.
// When unset, fragments are read directly from paths.source_dir.
type RepoConfig struct {
	URL    string `yaml:"url"`
	Ref    string `yaml:"ref"`
	Subdir string `yaml:"subdir"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	SourceDir string `yaml:"source_dir"`
	StateDir  string `yaml:"state_dir"`
}

// SyncConfig configures merge behavior
type SyncConfig struct {
	BackupSuffix string `yaml:"backup_suffix"`
}

// Category describes one group of fragments merged into one destination file.
// Fragments are files in the source directory named <name>.<token>.<label>.
type Category struct {
	Name   string `yaml:"name"`
	Dest   string `yaml:"dest"`
	Backup string `yaml:"backup"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.Ref = os.ExpandEnv(c.Repo.Ref)
	c.Repo.Subdir = os.ExpandEnv(c.Repo.Subdir)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Paths.SourceDir = os.ExpandEnv(c.Paths.SourceDir)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
	for i := range c.Categories {
		c.Categories[i].Dest = os.ExpandEnv(c.Categories[i].Dest)
		c.Categories[i].Backup = os.ExpandEnv(c.Categories[i].Backup)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.BackupSuffix == "" {
		c.Sync.BackupSuffix = DefaultBackupSuffix
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate paths
	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// Validate fragment source: either a git repo or a local directory
	if c.HasRepo() {
		if c.Repo.Ref == "" {
			return fmt.Errorf("repo.ref is required when repo.url is set")
		}
	} else {
		if c.Paths.SourceDir == "" {
			return fmt.Errorf("paths.source_dir is required when no repo is configured")
		}
		if !filepath.IsAbs(c.Paths.SourceDir) {
			return fmt.Errorf("paths.source_dir must be an absolute path: %s", c.Paths.SourceDir)
		}
	}

	// Validate categories
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	names := make(map[string]bool)
	for _, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("categories[].name is required")
		}
		if strings.ContainsAny(cat.Name, "/\\") {
			return fmt.Errorf("category name must not contain path separators: %s", cat.Name)
		}
		// Names prefix fragment filenames; a dotted name would also match
		// another category's fragments.
		if strings.Contains(cat.Name, ".") {
			return fmt.Errorf("category name must not contain dots: %s", cat.Name)
		}
		if names[cat.Name] {
			return fmt.Errorf("duplicate category name: %s", cat.Name)
		}
		names[cat.Name] = true

		if cat.Dest == "" {
			return fmt.Errorf("categories[].dest is required for category %s", cat.Name)
		}
		if !filepath.IsAbs(cat.Dest) {
			return fmt.Errorf("categories[].dest must be an absolute path: %s", cat.Dest)
		}
		if cat.Backup != "" && !filepath.IsAbs(cat.Backup) {
			return fmt.Errorf("categories[].backup must be an absolute path: %s", cat.Backup)
		}
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	// Validate auth: when auth is configured, the URL scheme must match
	if c.Auth.SSHKeyFile != "" && !c.IsSSH() {
		return fmt.Errorf("auth.ssh_key_file is set but repo.url does not use an SSH scheme (git@ or ssh://)")
	}
	if c.Auth.HTTPSTokenFile != "" && !c.IsHTTPS() {
		return fmt.Errorf("auth.https_token_file is set but repo.url does not use HTTPS scheme")
	}

	// Validate serve config if enabled
	if c.Serve.Enabled {
		if !c.HasRepo() {
			return fmt.Errorf("serve requires repo.url to be set (webhook syncs pull from git)")
		}
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
	}

	return nil
}

// HasRepo returns true if a Git fragment source is configured
func (c *Config) HasRepo() bool {
	return c.Repo.URL != ""
}

// RepoDir returns the path where the git repository is checked out
func (c *Config) RepoDir() string {
	return filepath.Join(c.Paths.StateDir, "repo")
}

// SourceRoot returns the directory containing the fragment files: the git
// checkout (plus optional subdir) when a repo is configured, otherwise the
// configured local source directory.
func (c *Config) SourceRoot() string {
	if !c.HasRepo() {
		return c.Paths.SourceDir
	}
	if c.Repo.Subdir == "" {
		return c.RepoDir()
	}
	return filepath.Join(c.RepoDir(), c.Repo.Subdir)
}

// ReportFilePath returns the path where the last run's outcome report is saved
func (c *Config) ReportFilePath() string {
	return filepath.Join(c.Paths.StateDir, "lastrun.json")
}

// BackupPath returns the backup location for a category: the explicit backup
// path if set, otherwise the destination path with the backup suffix appended.
func (c *Config) BackupPath(cat Category) string {
	if cat.Backup != "" {
		return cat.Backup
	}
	return cat.Dest + c.Sync.BackupSuffix
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}

// IsHTTPS returns true if the repo URL uses HTTPS
func (c *Config) IsHTTPS() bool {
	return strings.HasPrefix(c.Repo.URL, "https://")
}

// IsSSH returns true if the repo URL uses SSH
func (c *Config) IsSSH() bool {
	return strings.HasPrefix(c.Repo.URL, "git@") || strings.HasPrefix(c.Repo.URL, "ssh://")
}
