// Package extract turns Proton Pass SSH key records into key files and the
// entries the rclone sync is built from.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/profile"
	"github.com/schaermu/pass-ssh-unpack/internal/protonpass"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
)

// PublicKeyField is the item field public keys are synced back to
const PublicKeyField = "public_key"

// Options controls a single extraction run
type Options struct {
	Vaults []string // vault glob patterns, empty selects all
	Items  []string // item title glob patterns, empty selects all

	// Hostname selects machine specific "title/host" items
	Hostname string
	// User is used for remotes whose item has no Username field
	User string

	// WriteKeys is false when only the rclone entries are wanted
	WriteKeys bool
	Full      bool
	DryRun    bool
}

// Result summarizes an extraction run
type Result struct {
	Entries  []profile.Entry
	Written  []string
	Removed  []string
	Failed   []string
	Failures error
}

func (r *Result) fail(name string, err error) {
	r.Failed = append(r.Failed, name)
	r.Failures = multierr.Append(r.Failures, err)
}

// Extractor reads SSH key and Teleport records and writes key files
type Extractor struct {
	cfg    *config.Config
	pass   protonpass.Client
	keygen KeyGen
	fs     afero.Fs
	out    *report.Printer
	logger *slog.Logger
}

// New creates an Extractor
func New(cfg *config.Config, pass protonpass.Client, keygen KeyGen, fs afero.Fs, out *report.Printer, logger *slog.Logger) *Extractor {
	return &Extractor{
		cfg:    cfg,
		pass:   pass,
		keygen: keygen,
		fs:     fs,
		out:    out,
		logger: logger,
	}
}

// Run processes every selected vault. Failures of single vaults or items are
// collected in the result; only failing to list vaults or to create the
// output directory aborts the run.
func (x *Extractor) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.WriteKeys {
		x.out.Section("Extracting SSH keys from Proton Pass...")
	} else {
		x.out.Section("Reading SSH key records from Proton Pass...")
	}

	vaults, err := x.pass.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vaults: %w", err)
	}
	selected := Filter(vaults, opts.Vaults)
	if len(selected) == 0 && len(opts.Vaults) > 0 {
		x.out.Line("Warning: no vaults matched the specified patterns")
	}

	dir := x.cfg.OutputDir()
	if opts.WriteKeys && !opts.DryRun {
		if err := x.fs.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	res := &Result{}
	keep := make(map[string]bool)
	for _, vault := range selected {
		x.out.Line("[%s]", vault)

		items, err := x.listItems(ctx, vault)
		if err != nil {
			x.out.Line("  (error listing items)")
			res.fail(vault, fmt.Errorf("failed to list items in vault %q: %w", vault, err))
			continue
		}
		if len(items) == 0 {
			x.out.Line("  (no SSH keys)")
			continue
		}

		for _, item := range items {
			if !MatchAny(item.Title, opts.Items) {
				continue
			}
			base, ok := ForHost(item.Title, opts.Hostname)
			if !ok {
				x.out.Line("  Skipping: %s (not for this machine)", item.Title)
				continue
			}

			name := sanitize(base)
			entry, err := x.process(ctx, vault, name, item, dir, opts)
			if err != nil {
				x.logger.Warn("failed to process item", "vault", vault, "item", item.Title, "error", err)
				res.fail(item.Title, fmt.Errorf("failed to process %q: %w", item.Title, err))
				continue
			}
			keep[name] = true
			if item.PrivateKey != "" && opts.WriteKeys && !opts.DryRun {
				res.Written = append(res.Written, name)
			}
			if entry != nil {
				res.Entries = append(res.Entries, *entry)
			}
		}
	}

	if opts.Full && opts.WriteKeys {
		x.removeStale(dir, keep, opts.DryRun, res)
	}
	return res, nil
}

func (x *Extractor) listItems(ctx context.Context, vault string) ([]protonpass.Item, error) {
	keys, err := x.pass.ListSSHKeys(ctx, vault)
	if err != nil {
		return nil, err
	}
	teleport, err := x.pass.ListTeleportItems(ctx, vault)
	if err != nil {
		return nil, err
	}
	return append(keys, teleport...), nil
}

// process handles one item. Teleport items only produce an entry; key items
// write their key files and produce an entry when a Host field is set.
func (x *Extractor) process(ctx context.Context, vault, name string, item protonpass.Item, dir string, opts Options) (*profile.Entry, error) {
	user := item.Username
	if user == "" {
		user = opts.User
	}

	if item.PrivateKey == "" {
		if item.SSH == "" && item.ServerCommand == "" {
			return nil, fmt.Errorf("item has no private key")
		}
		x.out.Line("  Teleport: %s", item.Title)
		return &profile.Entry{
			RemoteName:    name,
			Host:          name,
			User:          teleportUser(item.SSH, user),
			Aliases:       item.Aliases,
			SSH:           item.SSH,
			ServerCommand: item.ServerCommand,
		}, nil
	}

	x.out.Line("  Processing: %s", item.Title)
	keyPath := filepath.Join(dir, name)
	if opts.WriteKeys {
		if err := x.writeKeys(ctx, vault, item, keyPath, opts.DryRun); err != nil {
			return nil, err
		}
	}

	if item.Host == "" {
		x.logger.Debug("item has no host, no rclone remote", "item", item.Title)
		return nil, nil
	}
	entry := &profile.Entry{
		RemoteName:    name,
		Host:          item.Host,
		User:          user,
		KeyFile:       keyPath,
		Aliases:       item.Aliases,
		SSH:           item.SSH,
		ServerCommand: item.ServerCommand,
	}
	if item.Jump != "" && entry.SSH == "" {
		entry.SSH = fmt.Sprintf("ssh -J %s -i %s %s@%s", item.Jump, keyPath, user, item.Host)
	}
	return entry, nil
}

func (x *Extractor) writeKeys(ctx context.Context, vault string, item protonpass.Item, keyPath string, dryRun bool) error {
	stored := strings.TrimSpace(item.PublicKey)
	public := stored
	syncBack := false

	mode := x.cfg.SyncPublicKey
	if stored == "" || mode == config.SyncPublicKeyAlways {
		derived, err := x.keygen.PublicKey(ctx, item.PrivateKey)
		switch {
		case err != nil && stored == "":
			return fmt.Errorf("failed to derive public key: %w", err)
		case err != nil:
			x.logger.Warn("failed to derive public key, keeping stored one", "item", item.Title, "error", err)
		default:
			public = derived
			syncBack = derived != stored && (mode == config.SyncPublicKeyAlways ||
				(mode == config.SyncPublicKeyIfEmpty && stored == ""))
		}
	}

	if dryRun {
		x.out.Line("    Would write %s", keyPath)
		if syncBack {
			x.out.Line("    Would sync public key to %s/%s", vault, item.Title)
		}
		return nil
	}

	if err := afero.WriteFile(x.fs, keyPath, []byte(ensureNewline(item.PrivateKey)), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	// WriteFile keeps the mode of an existing file
	if err := x.fs.Chmod(keyPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict private key: %w", err)
	}
	if err := afero.WriteFile(x.fs, keyPath+".pub", []byte(public+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}

	if syncBack {
		if err := x.pass.UpdateField(ctx, vault, item.Title, PublicKeyField, public); err != nil {
			return err
		}
		x.out.Line("    Synced public key to Proton Pass")
	}
	return nil
}

// removeStale deletes key files in dir that no processed item produced
func (x *Extractor) removeStale(dir string, keep map[string]bool, dryRun bool, res *Result) {
	files, err := DiscoverKeyFiles(x.fs, dir)
	if err != nil {
		res.fail(dir, fmt.Errorf("failed to list key files: %w", err))
		return
	}

	for _, kf := range files {
		if keep[kf.Name] {
			continue
		}
		for _, path := range kf.Paths() {
			if dryRun {
				x.out.Line("Would remove %s", path)
				continue
			}
			if err := x.fs.Remove(path); err != nil {
				res.fail(path, fmt.Errorf("failed to remove stale key: %w", err))
				continue
			}
			x.out.Line("Removed %s", path)
			res.Removed = append(res.Removed, path)
		}
	}
}

// teleportUser returns the login of a "tsh ssh ... user@node" command
func teleportUser(sshCommand, fallback string) string {
	fields := strings.Fields(sshCommand)
	if len(fields) == 0 {
		return fallback
	}
	if user, _, ok := strings.Cut(fields[len(fields)-1], "@"); ok && user != "" {
		return user
	}
	return fallback
}

// sanitize makes a title usable as file and remote name
func sanitize(name string) string {
	name = strings.TrimSpace(name)
	return strings.NewReplacer("/", "-", "\\", "-").Replace(name)
}
