package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/extract"
	"github.com/schaermu/pass-ssh-unpack/internal/profile"
	"github.com/schaermu/pass-ssh-unpack/internal/prompt"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
	"github.com/schaermu/pass-ssh-unpack/internal/sync"
)

var (
	// Sync flags
	vaultPatterns      []string
	itemPatterns       []string
	fullMode           bool
	sshOnly            bool
	rcloneOnly         bool
	noRclone           bool
	showDiff           bool
	outputDir          string
	rclonePasswordPath string
	alwaysEncrypt      bool
	syncPublicKey      string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Extract SSH keys and sync rclone remotes",
	Long: `Sync reads the SSH key items of the selected Proton Pass vaults, writes the
private and public keys to the output directory and reconciles the managed
rclone SFTP remotes with them.

Items titled "name/machine" are only extracted on the machine with that
hostname. With --full, key files and managed remotes that no longer have an
item are removed.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringArrayVarP(&vaultPatterns, "vault", "v", nil, "vault(s) to process (repeatable, supports wildcards)")
	syncCmd.Flags().StringArrayVarP(&itemPatterns, "item", "i", nil, "item title pattern(s) to unpack (repeatable, supports wildcards)")
	syncCmd.Flags().BoolVarP(&fullMode, "full", "f", false, "full regeneration, remove keys and remotes without an item")
	syncCmd.Flags().BoolVar(&sshOnly, "ssh-only", false, "only write SSH keys, skip rclone")
	syncCmd.Flags().BoolVar(&rcloneOnly, "rclone-only", false, "only sync rclone remotes, do not write keys")
	syncCmd.Flags().BoolVar(&noRclone, "no-rclone", false, "skip rclone remote sync (same as --ssh-only)")
	syncCmd.Flags().BoolVar(&showDiff, "diff", false, "with --dry-run, show the rclone config changes as a diff")
	syncCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory for extracted keys (overrides ssh_output_dir)")
	syncCmd.Flags().StringVar(&rclonePasswordPath, "rclone-password-path", "", "pass:// reference of the rclone config password")
	syncCmd.Flags().BoolVar(&alwaysEncrypt, "always-encrypt", false, "encrypt the rclone config after syncing")
	syncCmd.Flags().StringVar(&syncPublicKey, "sync-public-key", "", "write derived public keys back to Proton Pass (never, if_empty, always)")
	syncCmd.MarkFlagsMutuallyExclusive("ssh-only", "rclone-only")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	// Setup logger
	logger := setupLogger()

	// Load configuration
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyOverrides(cfg); err != nil {
		return err
	}

	unlock, err := acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	out := report.New(os.Stdout, quiet)
	if dryRun {
		out.Section("[DRY RUN] No changes will be made")
	}

	doSSH := !rcloneOnly
	doRclone := !sshOnly && !noRclone && cfg.Rclone.Enabled

	pass := protonpass.NewShellClient()
	if err := ensurePassCLI(ctx, pass); err != nil {
		return err
	}
	keygen := extract.NewShellKeyGen()
	if doSSH && !keygen.Installed() {
		return errors.New("ssh-keygen not found. Install OpenSSH first")
	}

	fs := afero.NewOsFs()
	extractor := extract.New(cfg, pass, keygen, fs, out, logger)
	extracted, err := extractor.Run(ctx, extract.Options{
		Vaults:    extract.Patterns(vaultPatterns, cfg.DefaultVaults),
		Items:     extract.Patterns(itemPatterns, cfg.DefaultItems),
		Hostname:  hostname(),
		User:      currentUser(),
		WriteKeys: doSSH,
		Full:      fullMode,
		DryRun:    dryRun,
	})
	if err != nil {
		return err
	}
	failures := extracted.Failures

	if doRclone {
		engine := newEngine(cfg, pass, fs, out, logger, sync.Options{
			Full:   fullMode,
			DryRun: dryRun,
			Diff:   showDiff,
		})
		res, err := engine.Sync(ctx, profile.BuildDesired(extracted.Entries))
		if err != nil {
			logger.Error("rclone sync failed", "error", err)
			return fmt.Errorf("rclone sync failed: %w", err)
		}
		failures = multierr.Append(failures, res.Failures)
	}

	return finish(failures)
}

// applyOverrides applies the command line overrides to cfg and validates
// the result
func applyOverrides(cfg *config.Config) error {
	if outputDir != "" {
		cfg.SSHOutputDir = outputDir
	}
	if rclonePasswordPath != "" {
		cfg.Rclone.PasswordPath = rclonePasswordPath
	}
	if alwaysEncrypt {
		cfg.Rclone.AlwaysEncrypt = true
	}
	if syncPublicKey != "" {
		cfg.SyncPublicKey = config.SyncPublicKey(syncPublicKey)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}

// newRcloneTool creates the rclone client. A password in RCLONE_CONFIG_PASS
// is taken over by the client and only handed to rclone child processes.
func newRcloneTool() *rclone.ShellClient {
	tool := rclone.NewShellClient("")
	if password := os.Getenv(rclone.PasswordEnv); password != "" {
		tool.SetPassword(password)
	}
	return tool
}

func passwordPrompt() rclone.PasswordSource {
	return prompt.NewTerminal("Enter rclone config password: ").Password
}

func newEngine(cfg *config.Config, secrets sync.SecretLookup, fs afero.Fs, out *report.Printer, logger *slog.Logger, opts sync.Options) *sync.Engine {
	return sync.NewEngine(cfg, newRcloneTool(), secrets, passwordPrompt(), fs, out, logger, opts)
}
