package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/schaermu/pass-ssh-unpack/internal/config"
	"github.com/schaermu/pass-ssh-unpack/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
		debug     bool
		warn      bool
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text", debug: true, warn: true},
		{name: "info/json", logLevel: "info", logFormat: "json", warn: true},
		{name: "warn/text", logLevel: "warn", logFormat: "text", warn: true},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text", warn: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tc.debug {
				t.Errorf("debug enabled = %v, want %v", got, tc.debug)
			}
			if got := logger.Enabled(ctx, slog.LevelWarn); got != tc.warn {
				t.Errorf("warn enabled = %v, want %v", got, tc.warn)
			}
		})
	}
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	origCfgFile, origQuiet := cfgFile, quiet
	t.Cleanup(func() { cfgFile, quiet = origCfgFile, origQuiet })

	home := t.TempDir()
	t.Setenv("HOME", home)
	cfgFile = filepath.Join(home, "conf", "config.toml")
	quiet = true

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if cfg.OutputDir() != filepath.Join(home, ".ssh", "proton-pass") {
		t.Errorf("OutputDir = %q", cfg.OutputDir())
	}
	if _, err := os.Stat(cfgFile); err != nil {
		t.Errorf("default config was not written: %v", err)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte(`sync_public_key = "sometimes"`), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	if _, err := loadConfig(testLogger()); err == nil {
		t.Fatal("expected error for invalid config, got nil")
	}
}

func TestApplyOverrides(t *testing.T) {
	origOutput, origPath, origEncrypt, origSync := outputDir, rclonePasswordPath, alwaysEncrypt, syncPublicKey
	t.Cleanup(func() {
		outputDir, rclonePasswordPath, alwaysEncrypt, syncPublicKey = origOutput, origPath, origEncrypt, origSync
	})

	outputDir = "/srv/keys"
	rclonePasswordPath = "pass://Personal/rclone/password"
	alwaysEncrypt = true
	syncPublicKey = "always"

	cfg := config.Default()
	if err := applyOverrides(cfg); err != nil {
		t.Fatalf("applyOverrides returned error: %v", err)
	}
	if cfg.SSHOutputDir != "/srv/keys" || !cfg.Rclone.AlwaysEncrypt ||
		cfg.Rclone.PasswordPath != "pass://Personal/rclone/password" ||
		cfg.SyncPublicKey != config.SyncPublicKeyAlways {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	rclonePasswordPath = "Personal/rclone/password"
	if err := applyOverrides(config.Default()); err == nil {
		t.Error("expected error for a password path without pass:// scheme")
	}
}

func TestAcquireLock(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = filepath.Join(t.TempDir(), "config.toml")

	unlock, err := acquireLock()
	if err != nil {
		t.Fatalf("acquireLock returned error: %v", err)
	}

	if _, err := acquireLock(); !errors.Is(err, errLocked) {
		t.Fatalf("second acquireLock error = %v, want errLocked", err)
	}

	unlock()
	unlock2, err := acquireLock()
	if err != nil {
		t.Fatalf("acquireLock after unlock returned error: %v", err)
	}
	unlock2()
}

func TestFinish(t *testing.T) {
	if err := finish(nil); err != nil {
		t.Errorf("finish(nil) = %v, want nil", err)
	}

	failures := multierr.Append(errors.New("a"), errors.New("b"))
	err := finish(failures)
	if err == nil || !strings.Contains(err.Error(), "2 error(s)") {
		t.Errorf("finish = %v, want 2 error(s)", err)
	}
}

func TestPrintStatus(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, path := range []string{"/keys/db1", "/keys/db1.pub", "/keys/web", "/keys/.lock"} {
		if err := afero.WriteFile(fs, path, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	content := "[s3]\ntype = s3\n\n[db1]\ntype = sftp\nhost = h\nuser = u\ndescription = managed by pass-ssh-unpack\n"
	tool, err := testutil.NewFakeRclone(fs, "/rclone.conf", content, "")
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.SSHOutputDir = "/keys"

	var buf bytes.Buffer
	if err := printStatus(context.Background(), &buf, cfg, fs, tool, nil, nil, testLogger()); err != nil {
		t.Fatalf("printStatus returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"SSH keys:       2 in /keys", "rclone remotes: 1 managed, 1 other", "  db1 (sftp)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStatus_RcloneDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.SSHOutputDir = "/keys"
	cfg.Rclone.Enabled = false
	fs := afero.NewMemMapFs()
	tool, err := testutil.NewFakeRclone(fs, "/rclone.conf", "", "")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printStatus(context.Background(), &buf, cfg, fs, tool, nil, nil, testLogger()); err != nil {
		t.Fatalf("printStatus returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "SSH keys:       0 in /keys") || !strings.Contains(buf.String(), "disabled") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetField(_ context.Context, reference string) (string, error) {
	value, ok := f[reference]
	if !ok {
		return "", errors.New("item not found")
	}
	return value, nil
}

func TestPrintStatus_Encrypted(t *testing.T) {
	const ref = "pass://Personal/rclone/password"
	content := "[db1]\ntype = sftp\nhost = h\nuser = u\ndescription = managed by pass-ssh-unpack\n"

	for _, tc := range []struct {
		name    string
		ref     string
		secrets fakeSecrets
		want    string
	}{
		{name: "password from secret store", ref: ref, secrets: fakeSecrets{ref: "secret"}, want: "rclone remotes: 1 managed, 0 other"},
		{name: "wrong password", ref: ref, secrets: fakeSecrets{ref: "nope"}, want: "rclone remotes: (encrypted - wrong password?)"},
		{name: "lookup fails", ref: ref, secrets: fakeSecrets{}, want: "rclone remotes: (encrypted)"},
		{name: "no password path", secrets: fakeSecrets{ref: "secret"}, want: "rclone remotes: (encrypted)"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			tool, err := testutil.NewFakeRclone(fs, "/rclone.conf", content, "secret")
			if err != nil {
				t.Fatal(err)
			}

			cfg := config.Default()
			cfg.SSHOutputDir = "/keys"
			cfg.Rclone.PasswordPath = tc.ref

			var buf bytes.Buffer
			if err := printStatus(context.Background(), &buf, cfg, fs, tool, tc.secrets, nil, testLogger()); err != nil {
				t.Fatalf("printStatus returned error: %v", err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Errorf("output missing %q:\n%s", tc.want, buf.String())
			}
		})
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"sync", "purge", "import-teleport", "status", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}
