//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
	"github.com/schaermu/pass-ssh-unpack/internal/testutil"
)

// Harness runs the real rclone binary against a config file inside a
// temporary home directory
type Harness struct {
	t          *testing.T
	Home       string
	ConfigPath string
}

// NewHarness creates a harness, skipping the test when rclone is not
// installed
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	if _, err := exec.LookPath("rclone"); err != nil {
		t.Skip("rclone not installed")
	}

	home := t.TempDir()
	h := &Harness{
		t:          t,
		Home:       home,
		ConfigPath: filepath.Join(home, ".config", "rclone", "rclone.conf"),
	}
	h.WriteConfig("")
	return h
}

// Tool returns a client bound to the harness config file
func (h *Harness) Tool() *rclone.ShellClient {
	return rclone.NewShellClient(h.ConfigPath)
}

// WriteConfig replaces the rclone config file
func (h *Harness) WriteConfig(content string) {
	h.t.Helper()
	if err := os.MkdirAll(filepath.Dir(h.ConfigPath), 0700); err != nil {
		h.t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(h.ConfigPath, []byte(content), 0600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
}

// ReadConfig returns the raw config file
func (h *Harness) ReadConfig() string {
	h.t.Helper()
	data, err := os.ReadFile(h.ConfigPath)
	if err != nil {
		h.t.Fatalf("read config: %v", err)
	}
	return string(data)
}

// WriteKey creates a dummy key file under the harness home
func (h *Harness) WriteKey(name string) string {
	h.t.Helper()
	path := filepath.Join(h.Home, ".ssh", "proton-pass", name)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		h.t.Fatalf("mkdir key dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("PRIVATE KEY\n"), 0600); err != nil {
		h.t.Fatalf("write key: %v", err)
	}
	return path
}

// BuildBinary compiles the pass-ssh-unpack command into the harness home
func (h *Harness) BuildBinary(ctx context.Context) string {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		h.t.Fatalf("get project root: %v", err)
	}

	bin := filepath.Join(h.Home, "bin", "pass-ssh-unpack")
	cmd := exec.CommandContext(ctx, "go", "build", "-o", bin, "./cmd/pass-ssh-unpack")
	cmd.Dir = projectRoot
	if out, err := cmd.CombinedOutput(); err != nil {
		h.t.Fatalf("go build: %v: %s", err, out)
	}
	return bin
}

// Run executes bin with HOME pointing at the harness home
func (h *Harness) Run(ctx context.Context, bin string, args ...string) (string, string, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = h.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%s %s: %w", filepath.Base(bin), strings.Join(args, " "), err)
	}
	return stdout.String(), stderr.String(), nil
}

func (h *Harness) env() []string {
	var env []string
	for _, kv := range os.Environ() {
		switch {
		case strings.HasPrefix(kv, "HOME="),
			strings.HasPrefix(kv, "XDG_CONFIG_HOME="),
			strings.HasPrefix(kv, "RCLONE_"):
			continue
		}
		env = append(env, kv)
	}
	return append(env, "HOME="+h.Home)
}
