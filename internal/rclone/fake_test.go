package rclone

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// fakeTool implements Tool with canned responses
type fakeTool struct {
	password string

	dumps   [][]byte
	dumpErr []error
	dumpN   int

	show    string
	showErr error

	encryptErr   error
	encryptPath  string
	encryptPass  string
	encryptCalls int
}

func (f *fakeTool) Installed() bool { return true }

func (f *fakeTool) ConfigFile(_ context.Context) (string, error) {
	return "/rclone.conf", nil
}

func (f *fakeTool) Dump(_ context.Context) ([]byte, error) {
	i := f.dumpN
	f.dumpN++
	var out []byte
	var err error
	if i < len(f.dumps) {
		out = f.dumps[i]
	}
	if i < len(f.dumpErr) {
		err = f.dumpErr[i]
	}
	return out, err
}

func (f *fakeTool) Show(_ context.Context) (string, error) {
	return f.show, f.showErr
}

func (f *fakeTool) Create(_ context.Context, _, _ string, _ []string) error {
	return errors.New("not implemented")
}

func (f *fakeTool) Delete(_ context.Context, _ string) error {
	return errors.New("not implemented")
}

func (f *fakeTool) SetEncryption(_ context.Context, path, password string) error {
	f.encryptCalls++
	f.encryptPath = path
	f.encryptPass = password
	return f.encryptErr
}

func (f *fakeTool) Password() string            { return f.password }
func (f *fakeTool) SetPassword(password string) { f.password = password }
func (f *fakeTool) ClearPassword()              { f.password = "" }

func decryptErr() error {
	return &CommandError{
		Args:   []string{"config", "dump"},
		Stderr: "Failed to load config file: unable to decrypt configuration and not allowed to ask for password - set RCLONE_CONFIG_PASS",
		Err:    errors.New("exit status 1"),
	}
}

func wrongPasswordErr() error {
	return &CommandError{
		Args:   []string{"config", "dump"},
		Stderr: "Failed to load config file: unable to decrypt configuration: wrong password",
		Err:    errors.New("exit status 1"),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
