package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/profile"
	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
)

// SecretLookup resolves a secret reference to its value
type SecretLookup interface {
	GetField(ctx context.Context, reference string) (string, error)
}

// Options controls a single run
type Options struct {
	Full   bool // delete owned remotes that are no longer desired
	DryRun bool
	Diff   bool // print the config diff on dry-run
}

// Engine reconciles the rclone configuration with a desired set of remotes
type Engine struct {
	cfg     *config.Config
	rclone  rclone.Tool
	secrets SecretLookup
	prompt  rclone.PasswordSource
	fs      afero.Fs
	out     *report.Printer
	logger  *slog.Logger
	opts    Options
}

// NewEngine creates a new sync engine. secrets and prompt may be nil.
func NewEngine(cfg *config.Config, tool rclone.Tool, secrets SecretLookup, prompt rclone.PasswordSource, fs afero.Fs, out *report.Printer, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:     cfg,
		rclone:  tool,
		secrets: secrets,
		prompt:  prompt,
		fs:      fs,
		out:     out,
		logger:  logger,
		opts:    opts,
	}
}

// run is the per-invocation state shared by Sync and Purge
type run struct {
	path    string
	session *rclone.Session
	backend Backend
}

// Sync reconciles the rclone config with desired. Skips are reported through
// Result.Skipped, per-remote failures through Result.Failures; a returned
// error is fatal and leaves the config file untouched.
func (e *Engine) Sync(ctx context.Context, desired profile.Desired) (res *Result, err error) {
	res = &Result{}
	e.out.Section("Syncing rclone remotes...")

	if !e.rclone.Installed() {
		return e.skip(res, "rclone not installed"), nil
	}
	if len(desired) == 0 {
		return e.skip(res, "no remotes to sync"), nil
	}

	defer func() {
		if err != nil {
			e.rclone.ClearPassword()
		}
	}()

	r, reason, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return e.skip(res, reason), nil
	}
	defer r.abandon()

	actual, err := e.readState(ctx, r)
	if err != nil {
		return nil, err
	}

	plan := Reconcile(desired, actual, e.opts.Full)
	res.Plan = plan
	e.logger.Info("sync plan",
		"create", len(plan.Create),
		"update", len(plan.Update),
		"delete", len(plan.Delete),
		"unchanged", len(plan.Unchanged),
		"conflicts", len(plan.Conflicts),
		"dry_run", e.opts.DryRun)
	for _, op := range plan.Conflicts {
		e.logger.Warn("remote exists but is not managed, skipping", "remote", op.Name)
	}

	if e.opts.DryRun {
		e.printPlan(plan)
		if e.opts.Diff {
			e.printDiff(ctx, r, plan)
		}
		e.logger.Info("dry-run complete, no changes applied")
		return res, nil
	}

	e.applyPlan(ctx, r.backend, plan, res)

	pruned, err := NewPruner(e.stateFunc(r), r.backend, e.fs, e.logger).Prune(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pruned.Pruned {
		res.Pruned = append(res.Pruned, p.Name)
		e.out.Deleted(p.Name, p.Reason)
	}
	res.Failed = append(res.Failed, pruned.Failed...)
	res.Failures = multierr.Append(res.Failures, pruned.Failures)

	if err := r.finalize(ctx); err != nil {
		return nil, err
	}

	e.printSummary(res)
	return res, nil
}

// Purge removes every owned remote. Desired state is not consulted.
func (e *Engine) Purge(ctx context.Context) (res *Result, err error) {
	res = &Result{}
	e.out.Section("Removing managed rclone remotes...")

	if !e.rclone.Installed() {
		return e.skip(res, "rclone not installed"), nil
	}

	defer func() {
		if err != nil {
			e.rclone.ClearPassword()
		}
	}()

	r, reason, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return e.skip(res, reason), nil
	}
	defer r.abandon()

	actual, err := e.readState(ctx, r)
	if err != nil {
		return nil, err
	}

	owned := actual.Owned()
	if len(owned) == 0 {
		e.out.Line("No managed remotes found")
		return res, nil
	}

	if e.opts.DryRun {
		for _, name := range owned {
			e.out.Would("remove", name)
		}
		e.out.Summary([]report.Count{{N: len(owned), Label: "to remove"}}, "")
		return res, nil
	}

	for _, name := range owned {
		if err := r.backend.Delete(ctx, name); err != nil {
			res.fail(name, err)
			continue
		}
		res.Deleted = append(res.Deleted, name)
		e.out.Deleted(name, "")
	}

	if err := r.finalize(ctx); err != nil {
		return nil, err
	}

	e.out.Summary([]report.Count{
		{N: len(res.Deleted), Label: "removed"},
		{N: len(res.Failed), Label: "failed"},
	}, "")
	return res, nil
}

func (e *Engine) skip(res *Result, reason string) *Result {
	e.logger.Info("skipping rclone sync", "reason", reason)
	e.out.Line("Skipped: %s", reason)
	res.Skipped = reason
	return res
}

// open resolves the config password and opens a config session when the
// file is encrypted, or when it is going to be encrypted. A non-empty reason
// means the run should be skipped.
func (e *Engine) open(ctx context.Context) (*run, string, error) {
	if ref := e.cfg.Rclone.PasswordPath; ref != "" {
		if e.secrets == nil {
			return nil, "no secret store to resolve " + ref, nil
		}
		password, err := e.secrets.GetField(ctx, ref)
		if err != nil || password == "" {
			e.logger.Warn("failed to get rclone password", "path", ref, "error", err)
			return nil, "could not get rclone password from " + ref, nil
		}
		e.rclone.SetPassword(password)
	}

	path, err := e.rclone.ConfigFile(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to locate rclone config: %w", err)
	}

	encrypted := rclone.IsEncrypted(e.fs, path)
	alwaysEncrypt := e.cfg.Rclone.AlwaysEncrypt && !e.opts.DryRun

	r := &run{path: path}
	if encrypted || (alwaysEncrypt && e.rclone.Password() != "") {
		if encrypted && e.rclone.Password() == "" {
			if err := rclone.AskPassword(ctx, e.rclone, e.prompt); err != nil {
				return nil, "", err
			}
		}

		e.logger.Debug("opening rclone config session", "path", path, "encrypted", encrypted)
		session, err := rclone.Open(ctx, e.rclone, e.fs, path, encrypted, alwaysEncrypt)
		if err != nil {
			return nil, "", err
		}
		r.session = session
	}

	r.backend = newBackend(e.rclone, r.session, e.logger)
	return r, "", nil
}

func (e *Engine) stateFunc(r *run) StateFunc {
	return func(ctx context.Context) (profile.State, error) {
		return e.readState(ctx, r)
	}
}

func (e *Engine) readState(ctx context.Context, r *run) (profile.State, error) {
	if r.session != nil {
		return rclone.ParseText(r.session.Text()), nil
	}
	return rclone.NewStateReader(e.rclone, e.prompt, e.logger).Read(ctx)
}

// applyPlan executes the plan. Updates are applied as delete then create.
// A failing remote is recorded and the batch continues.
func (e *Engine) applyPlan(ctx context.Context, backend Backend, plan *Plan, res *Result) {
	for _, op := range plan.Delete {
		e.logger.Info("deleting remote", "remote", op.Name)
		if err := backend.Delete(ctx, op.Name); err != nil {
			res.fail(op.Name, err)
			continue
		}
		res.Deleted = append(res.Deleted, op.Name)
		e.out.Deleted(op.Name, "")
	}

	for _, op := range plan.Create {
		e.logger.Info("creating remote", "remote", op.Name, "type", op.Def.Kind.Type())
		if err := backend.Create(ctx, op.Name, op.Def); err != nil {
			res.fail(op.Name, err)
			continue
		}
		res.Created = append(res.Created, op.Name)
		e.out.Created(op.Name, describe(op.Def))
	}

	for _, op := range plan.Update {
		e.logger.Info("updating remote", "remote", op.Name, "type", op.Def.Kind.Type())
		if err := backend.Delete(ctx, op.Name); err != nil {
			res.fail(op.Name, err)
			continue
		}
		if err := backend.Create(ctx, op.Name, op.Def); err != nil {
			res.fail(op.Name, err)
			continue
		}
		res.Updated = append(res.Updated, op.Name)
		e.out.Updated(op.Name, describe(op.Def))
	}
}

func (e *Engine) printPlan(plan *Plan) {
	for _, op := range plan.Delete {
		e.out.Would("delete", op.Name)
	}
	for _, op := range plan.Create {
		e.out.Would("create", op.Name)
	}
	for _, op := range plan.Update {
		e.out.Would("update", op.Name)
	}
	e.out.Summary([]report.Count{
		{N: len(plan.Create), Label: "to create"},
		{N: len(plan.Update), Label: "to update"},
		{N: len(plan.Delete), Label: "to delete"},
		{N: len(plan.Unchanged), Label: "unchanged"},
	}, "No changes")
	if n := len(plan.Conflicts); n > 0 {
		e.out.Line("Skipped %d (unmanaged conflicts).", n)
	}
}

// printDiff applies the plan to a scratch copy of the config and prints what
// the real run would write. Pruning is not simulated.
func (e *Engine) printDiff(ctx context.Context, r *run, plan *Plan) {
	source := r.session
	if source == nil {
		s, err := rclone.Open(ctx, e.rclone, e.fs, r.path, false, false)
		if err != nil {
			e.logger.Warn("cannot show config diff", "error", err)
			return
		}
		s.Abandon()
		source = s
	}

	scratch := source.Scratch()
	b := &memoryBackend{session: scratch}
	for _, op := range plan.Delete {
		_ = b.Delete(ctx, op.Name)
	}
	for _, op := range plan.Create {
		_ = b.Create(ctx, op.Name, op.Def)
	}
	for _, op := range plan.Update {
		_ = b.Delete(ctx, op.Name)
		_ = b.Create(ctx, op.Name, op.Def)
	}
	e.out.Diff(source.Text(), scratch.Text())
}

func (e *Engine) printSummary(res *Result) {
	unchanged := 0
	if res.Plan != nil {
		unchanged = len(res.Plan.Unchanged)
	}
	e.out.Summary([]report.Count{
		{N: len(res.Created), Label: "created"},
		{N: len(res.Updated), Label: "updated"},
		{N: len(res.Deleted), Label: "deleted"},
		{N: len(res.Pruned), Label: "pruned"},
		{N: unchanged, Label: "unchanged"},
	}, "No changes")
	if res.Plan != nil && len(res.Plan.Conflicts) > 0 {
		e.out.Line("Skipped %d (unmanaged conflicts).", len(res.Plan.Conflicts))
	}
	if n := len(res.Failed); n > 0 {
		e.out.Line("%d failed", n)
	}
}

func (r *Result) fail(name string, err error) {
	r.Failed = append(r.Failed, name)
	r.Failures = multierr.Append(r.Failures, fmt.Errorf("%s: %w", name, err))
}

func (r *run) finalize(ctx context.Context) error {
	if r.session == nil {
		return nil
	}
	return r.session.Finalize(ctx)
}

func (r *run) abandon() {
	if r.session != nil {
		r.session.Abandon()
	}
}

func describe(def profile.Definition) string {
	if def.Kind == profile.KindAlias {
		return "alias of " + def.Target
	}
	if def.User != "" {
		return def.User + "@" + def.Host
	}
	return def.Host
}
