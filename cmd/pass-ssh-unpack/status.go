package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/extract"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
	"github.com/schaermu/pass-ssh-unpack/internal/sync"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show extracted keys and managed rclone remotes",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var secrets sync.SecretLookup
	if pass := protonpass.NewShellClient(); pass.Installed() {
		secrets = pass
	}

	return printStatus(ctx, cmd.OutOrStdout(), cfg, afero.NewOsFs(), newRcloneTool(), secrets, passwordPrompt(), logger)
}

// printStatus writes the key and remote overview. A configured password_path
// is resolved through secrets before rclone is asked; an encrypted config
// that still cannot be read is reported instead of failing.
func printStatus(ctx context.Context, w io.Writer, cfg *config.Config, fs afero.Fs, tool rclone.Tool, secrets sync.SecretLookup, password rclone.PasswordSource, logger *slog.Logger) error {
	dir := cfg.OutputDir()
	files, err := extract.DiscoverKeyFiles(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to list key files: %w", err)
	}
	keys := 0
	for _, f := range files {
		if f.Private != "" {
			keys++
		}
	}
	fmt.Fprintf(w, "SSH keys:       %d in %s\n", keys, dir)

	switch {
	case !cfg.Rclone.Enabled:
		fmt.Fprintln(w, "rclone remotes: disabled")
	case !tool.Installed():
		fmt.Fprintln(w, "rclone remotes: rclone not installed")
	default:
		if ref := cfg.Rclone.PasswordPath; ref != "" && secrets != nil {
			secret, err := secrets.GetField(ctx, ref)
			if err != nil || secret == "" {
				logger.Warn("failed to get rclone password", "path", ref, "error", err)
			} else {
				tool.SetPassword(secret)
			}
		}

		state, err := rclone.NewStateReader(tool, password, logger).Read(ctx)
		switch {
		case errors.Is(err, rclone.ErrWrongPassword):
			fmt.Fprintln(w, "rclone remotes: (encrypted - wrong password?)")
			return nil
		case errors.Is(err, rclone.ErrPasswordRequired):
			fmt.Fprintln(w, "rclone remotes: (encrypted)")
			return nil
		case err != nil:
			return err
		}
		owned := state.Owned()
		fmt.Fprintf(w, "rclone remotes: %d managed, %d other\n", len(owned), len(state)-len(owned))
		for _, name := range owned {
			fmt.Fprintf(w, "  %s (%s)\n", name, state[name].Type)
		}
	}
	return nil
}
