package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
	"github.com/schaermu/pass-ssh-unpack/internal/teleport"
)

var (
	// import-teleport flags
	importVault string
	importItems []string
	scanNodes   bool
)

var importTeleportCmd = &cobra.Command{
	Use:   "import-teleport",
	Short: "Create Proton Pass items for Teleport nodes",
	Long: `Import-teleport lists the nodes of the active tsh login and creates a custom
item per node in the given vault. The items carry the tsh ssh command and the
sftp server path, so the next sync creates an rclone remote for every node.

Nodes that already have an item of the same title are skipped.`,
	RunE: runImportTeleport,
}

func init() {
	importTeleportCmd.Flags().StringVar(&importVault, "vault", "", "vault to create the items in")
	importTeleportCmd.Flags().StringArrayVarP(&importItems, "item", "i", nil, "node name pattern(s) to import (repeatable, supports wildcards)")
	importTeleportCmd.Flags().BoolVar(&scanNodes, "scan", false, "detect the sftp server path on every node")
	_ = importTeleportCmd.MarkFlagRequired("vault")
}

func runImportTeleport(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	if _, err := loadConfig(logger); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	unlock, err := acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	tsh := teleport.NewShellClient()
	if !tsh.Installed() {
		return errors.New("tsh not found. Install Teleport first")
	}
	pass := protonpass.NewShellClient()
	if err := ensurePassCLI(ctx, pass); err != nil {
		return err
	}

	out := report.New(os.Stdout, quiet)
	if dryRun {
		out.Section("[DRY RUN] No changes will be made")
	}

	importer := teleport.NewImporter(tsh, pass, out, logger)
	res, err := importer.Import(ctx, teleport.ImportOptions{
		Vault:  importVault,
		Items:  importItems,
		Scan:   scanNodes,
		DryRun: dryRun,
	})
	if err != nil {
		return err
	}
	return finish(res.Failures)
}
