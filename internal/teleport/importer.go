package teleport

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/extract"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
)

// ImportOptions controls an import run
type ImportOptions struct {
	Vault  string
	Items  []string // node name glob patterns, empty selects all
	Scan   bool     // detect the sftp server path on every node
	DryRun bool
}

// ImportResult summarizes an import run
type ImportResult struct {
	Created  []string
	Skipped  []string
	Failed   []string
	Failures error
}

// Importer creates Proton Pass items for Teleport nodes
type Importer struct {
	tsh    Client
	pass   protonpass.Client
	out    *report.Printer
	logger *slog.Logger
}

// NewImporter creates an Importer
func NewImporter(tsh Client, pass protonpass.Client, out *report.Printer, logger *slog.Logger) *Importer {
	return &Importer{
		tsh:    tsh,
		pass:   pass,
		out:    out,
		logger: logger,
	}
}

// Import creates one custom item per node that has no item of the same title
// in the vault yet. The vault is created when missing.
func (i *Importer) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	status, err := i.tsh.Status(ctx)
	if err != nil {
		return nil, err
	}
	proxy, err := status.Proxy()
	if err != nil {
		return nil, err
	}
	i.logger.Debug("teleport status", "proxy", proxy, "user", status.Username, "cluster", status.Cluster)

	nodes, err := i.tsh.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	nodes = extract.Filter(nodes, opts.Items)

	i.out.Section(fmt.Sprintf("Importing Teleport nodes into %s...", opts.Vault))
	if len(nodes) == 0 {
		i.out.Line("No nodes found")
		return &ImportResult{}, nil
	}

	existing, err := i.existingTitles(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for _, node := range nodes {
		if existing[node] {
			i.out.Line("Skipping: %s (already exists)", node)
			res.Skipped = append(res.Skipped, node)
			continue
		}

		server := DefaultSubsystem
		if opts.Scan {
			server = i.tsh.Subsystem(ctx, node)
		}
		sshCommand := SSHCommand(proxy, status.Username, node)

		if opts.DryRun {
			i.out.Would("create", fmt.Sprintf("%s (%s)", node, server))
			res.Created = append(res.Created, node)
			continue
		}

		if err := i.pass.CreateTeleportItem(ctx, opts.Vault, node, sshCommand, server); err != nil {
			i.logger.Warn("failed to create item", "node", node, "error", err)
			res.Failed = append(res.Failed, node)
			res.Failures = multierr.Append(res.Failures, err)
			continue
		}
		i.out.Created(node, server)
		res.Created = append(res.Created, node)
	}

	i.out.Summary([]report.Count{
		{N: len(res.Created), Label: "created"},
		{N: len(res.Skipped), Label: "skipped"},
		{N: len(res.Failed), Label: "failed"},
	}, "")
	return res, nil
}

// existingTitles returns the item titles of the vault, creating the vault
// first when it does not exist
func (i *Importer) existingTitles(ctx context.Context, opts ImportOptions) (map[string]bool, error) {
	exists, err := i.pass.VaultExists(ctx, opts.Vault)
	if err != nil {
		return nil, err
	}
	if !exists {
		if opts.DryRun {
			i.out.Would("create vault", opts.Vault)
			return nil, nil
		}
		if err := i.pass.CreateVault(ctx, opts.Vault); err != nil {
			return nil, err
		}
		i.out.Line("Created vault %s", opts.Vault)
		return nil, nil
	}

	titles, err := i.pass.ListItemTitles(ctx, opts.Vault)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(titles))
	for _, t := range titles {
		set[t] = true
	}
	return set, nil
}
