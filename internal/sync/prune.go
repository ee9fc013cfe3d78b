package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/profile"
)

// StateFunc returns the current remotes
type StateFunc func(ctx context.Context) (profile.State, error)

// Pruned is a remote removed by the pruner
type Pruned struct {
	Name   string
	Reason string
}

// PruneResult holds the outcome of a prune run
type PruneResult struct {
	Pruned   []Pruned
	Failed   []string
	Failures error
}

// Pruner removes owned remotes whose dependencies are gone
type Pruner struct {
	read    StateFunc
	backend Backend
	fs      afero.Fs
	logger  *slog.Logger
}

// NewPruner creates a pruner. read must reflect deletions made through
// backend.
func NewPruner(read StateFunc, backend Backend, fs afero.Fs, logger *slog.Logger) *Pruner {
	return &Pruner{
		read:    read,
		backend: backend,
		fs:      fs,
		logger:  logger,
	}
}

// Prune runs two passes. The first deletes owned sftp remotes whose key file
// no longer exists. The second re-reads the state and deletes owned aliases
// whose target is gone, including targets removed by the first pass.
func (p *Pruner) Prune(ctx context.Context) (*PruneResult, error) {
	res := &PruneResult{}

	state, err := p.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rclone state: %w", err)
	}
	for _, name := range state.Owned() {
		remote := state[name]
		if remote.Type != profile.TypeSFTP || remote.KeyFile == nil || *remote.KeyFile == "" {
			continue
		}
		keyFile := config.ExpandTilde(*remote.KeyFile)
		if exists, _ := afero.Exists(p.fs, keyFile); exists {
			continue
		}
		p.remove(ctx, res, name, "key file missing: "+keyFile)
	}

	state, err = p.read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read rclone state: %w", err)
	}
	for _, name := range state.Owned() {
		remote := state[name]
		if remote.Type != profile.TypeAlias {
			continue
		}
		target := remote.AliasTarget()
		if _, ok := state[target]; ok {
			continue
		}
		p.remove(ctx, res, name, "alias target missing: "+target)
	}

	return res, nil
}

func (p *Pruner) remove(ctx context.Context, res *PruneResult, name, reason string) {
	p.logger.Info("pruning remote", "remote", name, "reason", reason)
	if err := p.backend.Delete(ctx, name); err != nil {
		res.Failed = append(res.Failed, name)
		res.Failures = multierr.Append(res.Failures, fmt.Errorf("prune %s: %w", name, err))
		return
	}
	res.Pruned = append(res.Pruned, Pruned{Name: name, Reason: reason})
}
