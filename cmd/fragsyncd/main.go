package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mlutz/fragsyncd/internal/config"
	"github.com/mlutz/fragsyncd/internal/git"
	"github.com/mlutz/fragsyncd/internal/sync"
	"github.com/mlutz/fragsyncd/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fragsyncd",
	Short: "Merge configuration fragments into canonical destination files",
	Long: `fragsyncd merges ordered sets of fragment files (for example AWS credential
and config snippets) into one destination file per category. It only rewrites
a destination when the merged content actually differs, always keeps a backup
of the previous content, and replaces files atomically so other tools never
see a half-written destination.

Fragments can live in a local directory or in a Git repository; with a
repository source, fragsyncd can also run as a webhook daemon that syncs on
every push.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge all categories once",
	Long: `Sync discovers the fragment files of every configured category, merges them
in lexicographic filename order, and compares the result byte-for-byte with
the destination file. On difference, the destination is backed up and
atomically replaced.

With --dry-run, discovery, merge, duplicate detection, and comparison all run
and are reported, but no destination or backup file is touched.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a webhook daemon syncing on GitHub push events",
	Long: `Serve starts a long-running HTTP server that listens for GitHub webhook
events and performs a sync whenever the configured fragment repository is
pushed. Requires a repo source plus webhook secret configuration.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the outcome of the last sync run",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fragsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fragsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without touching any destination")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := sync.NewEngine(cfg, gitClient(cfg), logger, dryRun)

	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}

	printReport(report)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	server, err := webhook.NewServer(cfg, gitClient(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	return server.Start(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	report, err := sync.LoadReport(cfg.ReportFilePath())
	if err != nil {
		return fmt.Errorf("failed to load last run report: %w", err)
	}
	if report == nil {
		fmt.Println("no sync has run yet")
		return nil
	}

	mode := "sync"
	if report.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("last run %s (%s) at %s", report.RunID, mode, report.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	if report.Commit != "" {
		fmt.Printf(", commit %s", report.Commit)
	}
	fmt.Println()
	printReport(report)

	if report.Failed() {
		return fmt.Errorf("last run had failures")
	}
	return nil
}

// printReport renders a per-category summary to stdout.
func printReport(report *sync.Report) {
	for _, out := range report.Categories {
		switch {
		case out.Error != "":
			fmt.Printf("  %-14s ERROR (%s): %s\n", out.Category, out.ErrorKind, out.Error)
		case !out.Different:
			fmt.Printf("  %-14s up to date (%d fragments)\n", out.Category, out.Fragments)
		case out.Replaced:
			fmt.Printf("  %-14s replaced: %d fragments, %d sections, %d bytes, backup=%v\n",
				out.Category, out.Fragments, len(out.Sections), out.BytesWritten, out.BackedUp)
		default:
			fmt.Printf("  %-14s differs (%d fragments, not applied)\n", out.Category, out.Fragments)
		}
	}
}

// gitClient returns a git client when a repository source is configured.
func gitClient(cfg *config.Config) git.Client {
	if !cfg.HasRepo() {
		return nil
	}
	return git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/fragsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"categories", len(cfg.Categories),
		"source", cfg.SourceRoot(),
		"state_dir", cfg.Paths.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
