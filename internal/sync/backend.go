package sync

import (
	"context"
	"log/slog"

	"github.com/schaermu/pass-ssh-unpack/internal/profile"
	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
)

// Backend applies single remote mutations
type Backend interface {
	Create(ctx context.Context, name string, def profile.Definition) error
	Delete(ctx context.Context, name string) error
}

// newBackend selects the backend for a run: in-memory edits when a config
// session is open, rclone's own commands otherwise.
func newBackend(tool rclone.Tool, session *rclone.Session, logger *slog.Logger) Backend {
	if session != nil {
		return &memoryBackend{session: session}
	}
	return &directBackend{tool: tool, logger: logger}
}

// directBackend mutates the live config through rclone config create/delete
type directBackend struct {
	tool   rclone.Tool
	logger *slog.Logger
}

func (b *directBackend) Create(ctx context.Context, name string, def profile.Definition) error {
	if err := b.tool.Create(ctx, name, def.Kind.Type(), rclone.Params(def)); err != nil {
		b.logger.Warn("failed to create remote", "remote", name, "error", err)
		return err
	}
	return nil
}

func (b *directBackend) Delete(ctx context.Context, name string) error {
	if err := b.tool.Delete(ctx, name); err != nil {
		b.logger.Warn("failed to delete remote", "remote", name, "error", err)
		return err
	}
	return nil
}

// memoryBackend edits the decrypted config held by a session
type memoryBackend struct {
	session *rclone.Session
}

func (b *memoryBackend) Create(_ context.Context, name string, def profile.Definition) error {
	b.session.Mutate(func(content string) string {
		return rclone.ReplaceSection(content, name, def)
	})
	return nil
}

func (b *memoryBackend) Delete(_ context.Context, name string) error {
	b.session.Mutate(func(content string) string {
		return rclone.RemoveSection(content, name)
	})
	return nil
}
