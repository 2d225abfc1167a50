package git

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client fetches the fragment repository.
type Client interface {
	// EnsureCheckout clones or updates a repository and checks out the
	// specified ref, returning the resulting commit hash.
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
}

// ShellClient implements Client by shelling out to the git command.
type ShellClient struct {
	sshKeyFile     string
	httpsTokenFile string
}

// NewShellClient creates a git client that uses the system git binary.
func NewShellClient(sshKeyFile, httpsTokenFile string) *ShellClient {
	return &ShellClient{
		sshKeyFile:     sshKeyFile,
		httpsTokenFile: httpsTokenFile,
	}
}

// EnsureCheckout clones the repository on first use, fetches on subsequent
// runs, and force-checks-out the requested ref.
func (c *ShellClient) EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error) {
	cloned, err := c.ensureLocalCopy(ctx, url, destDir)
	if err != nil {
		return "", err
	}

	if err := c.checkoutRef(ctx, destDir, ref, !cloned); err != nil {
		return "", err
	}

	return c.headCommit(ctx, destDir)
}

// ensureLocalCopy clones the repo if destDir has no checkout yet, otherwise
// fetches from origin. Returns true when a fresh clone was made.
func (c *ShellClient) ensureLocalCopy(ctx context.Context, url, destDir string) (bool, error) {
	if _, err := os.Stat(filepath.Join(destDir, ".git")); err == nil {
		cmd := exec.CommandContext(ctx, "git", "-C", destDir, "fetch", "origin")
		if err := c.configureAuth(cmd, url); err != nil {
			return false, err
		}
		if err := runCommand(cmd); err != nil {
			return false, fmt.Errorf("git fetch failed: %w", err)
		}
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(destDir), 0755); err != nil {
		return false, fmt.Errorf("failed to create parent directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--no-checkout", url, destDir)
	if err := c.configureAuth(cmd, url); err != nil {
		return false, err
	}
	if err := runCommand(cmd); err != nil {
		return false, fmt.Errorf("git clone failed: %w", err)
	}
	return true, nil
}

// checkoutRef checks out ref, trying the direct name first (local branches,
// tags, commit hashes) and falling back to origin/<ref> for remote branches.
// For pre-existing checkouts the local branch may lag behind the fetched
// remote, so it is hard-reset to origin/<ref> afterwards; that reset is a
// no-op for fresh clones and silently skipped for tags and hashes.
func (c *ShellClient) checkoutRef(ctx context.Context, destDir, ref string, resetToRemote bool) error {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", ref)
	if err := runCommand(cmd); err != nil {
		cmd = exec.CommandContext(ctx, "git", "-C", destDir, "checkout", "-f", "origin/"+ref)
		if err := runCommand(cmd); err != nil {
			return fmt.Errorf("git checkout failed for ref %q (tried both direct and remote): %w", ref, err)
		}
	}

	if resetToRemote {
		reset := exec.CommandContext(ctx, "git", "-C", destDir, "reset", "--hard", "origin/"+ref)
		_ = runCommand(reset)
	}

	return nil
}

// headCommit returns the commit hash of HEAD in destDir.
func (c *ShellClient) headCommit(ctx context.Context, destDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// configureAuth sets up authentication for git operations
func (c *ShellClient) configureAuth(cmd *exec.Cmd, url string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// SSH authentication
	if c.sshKeyFile != "" && (strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://")) {
		// Use GIT_SSH_COMMAND to specify the SSH key.
		// The path is shell-quoted to prevent injection via crafted filenames.
		sshCmd := fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=accept-new -F /dev/null", shellQuote(c.sshKeyFile))
		cmd.Env = append(cmd.Env, "GIT_SSH_COMMAND="+sshCmd)
		return nil
	}

	// HTTPS authentication with token
	if c.httpsTokenFile != "" && strings.HasPrefix(url, "https://") {
		token, err := os.ReadFile(c.httpsTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read HTTPS token file: %w", err)
		}

		// Pass the token via environment variable and configure a git
		// credential helper that reads it, so the token never appears in
		// the argument list.
		cmd.Env = append(cmd.Env, "GIT_TERMINAL_PROMPT=0")
		cmd.Env = append(cmd.Env, "FRAGSYNCD_GIT_TOKEN="+strings.TrimSpace(string(token)))
		cmd.Args = insertGitFlags(cmd.Args,
			"-c", `credential.helper=!f() { echo "username=x-access-token"; echo "password=$FRAGSYNCD_GIT_TOKEN"; }; f`,
		)

		return nil
	}

	return nil
}

// insertGitFlags inserts flags immediately after the "git" command name,
// before the subcommand (e.g. "clone", "fetch").
func insertGitFlags(args []string, flags ...string) []string {
	if len(args) == 0 {
		return flags
	}
	result := make([]string, 0, len(args)+len(flags))
	result = append(result, args[0])
	result = append(result, flags...)
	result = append(result, args[1:]...)
	return result
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with stderr on failure
func runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
