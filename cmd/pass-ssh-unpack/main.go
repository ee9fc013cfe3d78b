package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
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
	quiet     bool
	dryRun    bool
)

// errLocked is returned when another run holds the lock file
var errLocked = errors.New("another run is in progress")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pass-ssh-unpack",
	Short: "Extract SSH keys from Proton Pass and sync rclone remotes",
	Long: `pass-ssh-unpack writes the SSH keys stored in Proton Pass to local files and
keeps an rclone SFTP remote for every key host in the rclone configuration.

Remotes it creates are marked as managed; remotes without the marker are never
modified. Encrypted rclone configurations are edited in memory and written
back encrypted.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pass-ssh-unpack %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/pass-ssh-unpack/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(importTeleportCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
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
		level = slog.LevelWarn
	}

	// stdout carries the run summary
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// configPath returns the --config value or the default location
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// loadConfig loads the configuration, writing the default file on first run
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	path := configPath()
	logger.Info("loading configuration", "path", path)

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, err
	}

	if created {
		if !quiet {
			fmt.Fprintf(os.Stderr, "Created default config at %s\n\n", path)
		}
	} else if missing := config.MissingOptions(path); len(missing) > 0 && !quiet {
		fmt.Fprintf(os.Stderr, "Warning: Your config is missing new options: %s\n", strings.Join(missing, ", "))
		fmt.Fprintf(os.Stderr, "  Consider regenerating with: rm %q && pass-ssh-unpack sync\n\n", path)
	}

	logger.Debug("configuration loaded",
		"ssh_output_dir", cfg.SSHOutputDir,
		"sync_public_key", cfg.SyncPublicKey,
		"rclone_enabled", cfg.Rclone.Enabled,
		"always_encrypt", cfg.Rclone.AlwaysEncrypt)

	return cfg, nil
}

// acquireLock takes the run lock next to the config file. The returned
// function releases it.
func acquireLock() (func(), error) {
	dir := filepath.Dir(configPath())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, errLocked
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}

// ensurePassCLI checks that pass-cli is installed and logged in, launching
// the interactive login when needed
func ensurePassCLI(ctx context.Context, pass protonpass.Client) error {
	if !pass.Installed() {
		return errors.New("pass-cli not found. Install Proton Pass CLI first")
	}
	if pass.LoggedIn(ctx) {
		return nil
	}

	fmt.Fprintln(os.Stderr, "Not logged into Proton Pass. Launching login...")
	if err := pass.Login(ctx); err != nil {
		return fmt.Errorf("%w. Please run 'pass-cli login' manually", err)
	}
	return nil
}

// hostname returns the lowercase machine name used for machine specific items
func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return strings.ToLower(name)
}

// currentUser returns the login name used for remotes without a Username
func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return os.Getenv("USER")
	}
	// DOMAIN\user on Windows
	if _, name, ok := strings.Cut(u.Username, `\`); ok {
		return name
	}
	return u.Username
}

// finish prints collected per-item failures and turns them into the error
// that makes the process exit non-zero
func finish(failures error) error {
	errs := multierr.Errors(failures)
	if len(errs) == 0 {
		return nil
	}

	fmt.Fprintf(os.Stderr, "\n%d error(s) occurred:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %v\n", err)
	}
	return fmt.Errorf("completed with %d error(s)", len(errs))
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
