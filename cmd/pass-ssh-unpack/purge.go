package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
	"github.com/schaermu/pass-ssh-unpack/internal/sync"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove all extracted SSH keys and managed rclone remotes",
	Long: `Purge deletes the SSH key output directory and every rclone remote marked as
managed by pass-ssh-unpack. Remotes without the marker are left alone.`,
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&sshOnly, "ssh-only", false, "only remove the SSH key directory")
	purgeCmd.Flags().BoolVar(&rcloneOnly, "rclone-only", false, "only remove managed rclone remotes")
	purgeCmd.Flags().StringVar(&rclonePasswordPath, "rclone-password-path", "", "pass:// reference of the rclone config password")
	purgeCmd.MarkFlagsMutuallyExclusive("ssh-only", "rclone-only")
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

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
	out.Section("Purging managed resources...")

	fs := afero.NewOsFs()
	if !rcloneOnly {
		if err := purgeKeys(fs, cfg, out, logger); err != nil {
			return err
		}
	}

	var failures error
	if !sshOnly && cfg.Rclone.Enabled {
		engine := newEngine(cfg, protonpass.NewShellClient(), fs, out, logger, sync.Options{DryRun: dryRun})
		res, err := engine.Purge(ctx)
		if err != nil {
			return fmt.Errorf("rclone purge failed: %w", err)
		}
		failures = res.Failures
	}

	out.Section("Done.")
	return finish(failures)
}

// purgeKeys removes the SSH key output directory
func purgeKeys(fs afero.Fs, cfg *config.Config, out *report.Printer, logger *slog.Logger) error {
	dir := cfg.OutputDir()
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return err
	}
	if !exists {
		out.Line("%s does not exist", dir)
		return nil
	}

	if dryRun {
		out.Line("Would remove %s", dir)
		return nil
	}
	logger.Info("removing ssh output directory", "path", dir)
	if err := fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	out.Line("Removed %s", dir)
	return nil
}
