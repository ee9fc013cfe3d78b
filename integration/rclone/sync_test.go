//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/profile"
	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
	"github.com/schaermu/pass-ssh-unpack/internal/report"
	"github.com/schaermu/pass-ssh-unpack/internal/sync"
)

const (
	defaultTimeout = 2 * time.Minute
	foreignRemote  = "[s3]\ntype = s3\nprovider = AWS\n\n"
	password       = "correct horse battery staple"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(tool rclone.Tool, opts sync.Options) *sync.Engine {
	return sync.NewEngine(config.Default(), tool, nil, nil, afero.NewOsFs(), report.Discard(), testLogger(), opts)
}

// remotes returns the remotes of the config as rclone itself reads them
func remotes(t *testing.T, ctx context.Context, tool rclone.Tool) profile.State {
	t.Helper()
	text, err := tool.Show(ctx)
	if err != nil {
		t.Fatalf("rclone config show: %v", err)
	}
	return rclone.ParseText(text)
}

func TestSync_PlaintextConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.WriteConfig(foreignRemote)
	key := h.WriteKey("db1")
	tool := h.Tool()

	desired := profile.BuildDesired([]profile.Entry{
		{RemoteName: "db1", Host: "db1.example.com", User: "deploy", KeyFile: key, Aliases: "db"},
	})

	res, err := newEngine(tool, sync.Options{}).Sync(ctx, desired)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Created) != 2 || res.Failures != nil {
		t.Fatalf("created = %v, failures = %v", res.Created, res.Failures)
	}

	state := remotes(t, ctx, tool)
	if !state["db1"].Matches(desired["db1"]) || !state["db1"].Owned() {
		t.Errorf("db1 = %+v", state["db1"])
	}
	if !state["db"].Matches(profile.Alias("db1")) {
		t.Errorf("db = %+v", state["db"])
	}
	if state["s3"].Owned() || state["s3"].Type != "s3" {
		t.Errorf("foreign remote changed: %+v", state["s3"])
	}

	// A second run finds nothing to do
	res, err = newEngine(tool, sync.Options{}).Sync(ctx, desired)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res.Plan.Changes() != 0 || len(res.Plan.Unchanged) != 2 {
		t.Errorf("second run plan = %+v", res.Plan)
	}
}

func TestSync_EncryptedConfigStaysEncrypted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.WriteConfig(foreignRemote)
	key := h.WriteKey("db1")
	tool := h.Tool()
	if err := tool.SetEncryption(ctx, h.ConfigPath, password); err != nil {
		t.Skipf("rclone does not support config encryption set: %v", err)
	}
	tool.SetPassword(password)

	desired := profile.Desired{"db1": profile.Connection("db1.example.com", "deploy", key)}
	if _, err := newEngine(tool, sync.Options{}).Sync(ctx, desired); err != nil {
		t.Fatalf("sync: %v", err)
	}

	raw := h.ReadConfig()
	if !strings.Contains(raw, "RCLONE_ENCRYPT_") || strings.Contains(raw, "db1.example.com") {
		t.Fatalf("config is not encrypted after sync:\n%s", raw)
	}
	if !remotes(t, ctx, tool)["db1"].Owned() {
		t.Error("db1 missing from decrypted config")
	}
}

func TestSync_WrongPasswordLeavesFileUntouched(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.WriteConfig(foreignRemote)
	key := h.WriteKey("db1")
	tool := h.Tool()
	if err := tool.SetEncryption(ctx, h.ConfigPath, password); err != nil {
		t.Skipf("rclone does not support config encryption set: %v", err)
	}
	before := h.ReadConfig()
	tool.SetPassword("wrong")

	_, err := newEngine(tool, sync.Options{}).Sync(ctx, profile.Desired{"db1": profile.Connection("h", "u", key)})
	if err == nil {
		t.Fatal("expected error for wrong password")
	}
	if tool.Password() != "" {
		t.Error("password was not cleared")
	}
	if h.ReadConfig() != before {
		t.Error("config file changed")
	}
}

func TestSync_PrunesRemoteWithMissingKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	key := h.WriteKey("gone")
	h.WriteConfig(foreignRemote +
		"[gone]\ntype = sftp\nhost = h\nuser = u\nkey_file = " + key + "\ndescription = managed by pass-ssh-unpack\n\n" +
		"[gone-alias]\ntype = alias\nremote = gone:\ndescription = managed by pass-ssh-unpack\n")
	if err := os.Remove(key); err != nil {
		t.Fatal(err)
	}
	fresh := h.WriteKey("db1")
	tool := h.Tool()

	res, err := newEngine(tool, sync.Options{}).Sync(ctx, profile.Desired{"db1": profile.Connection("h", "u", fresh)})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Pruned) != 2 {
		t.Errorf("pruned = %v, want gone and gone-alias", res.Pruned)
	}

	state := remotes(t, ctx, tool)
	if _, ok := state["gone"]; ok {
		t.Error("gone still present")
	}
	if _, ok := state["gone-alias"]; ok {
		t.Error("gone-alias still present")
	}
	if _, ok := state["s3"]; !ok {
		t.Error("foreign remote removed")
	}
}

func TestStatusCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	h.WriteKey("db1")
	h.WriteConfig(foreignRemote + "[db1]\ntype = sftp\nhost = h\nuser = u\ndescription = managed by pass-ssh-unpack\n")
	bin := h.BuildBinary(ctx)

	stdout, stderr, err := h.Run(ctx, bin, "status")
	if err != nil {
		t.Fatalf("%v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{"SSH keys:       1 in", "rclone remotes: 1 managed, 1 other", "db1 (sftp)"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("status output missing %q:\n%s", want, stdout)
		}
	}
}
