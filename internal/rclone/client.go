package rclone

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// PasswordEnv is the environment variable rclone reads the config password from
const PasswordEnv = "RCLONE_CONFIG_PASS"

var (
	// ErrNotInstalled is returned when the rclone binary cannot be found
	ErrNotInstalled = errors.New("rclone not installed")
	// ErrWrongPassword is returned when rclone rejects the config password
	ErrWrongPassword = errors.New("incorrect rclone config password")
	// ErrPasswordRequired is returned when the config is encrypted and no password was provided
	ErrPasswordRequired = errors.New("rclone config is encrypted and no password was provided")
)

// Tool provides the rclone operations the reconciliation needs
type Tool interface {
	// Installed reports whether the rclone binary is available
	Installed() bool
	// ConfigFile returns the path of the rclone configuration file
	ConfigFile(ctx context.Context) (string, error)
	// Dump returns the JSON output of rclone config dump
	Dump(ctx context.Context) ([]byte, error)
	// Show returns the decrypted configuration text
	Show(ctx context.Context) (string, error)
	// Create creates a remote of the given type with key=value parameters
	Create(ctx context.Context, name, remoteType string, params []string) error
	// Delete removes a remote
	Delete(ctx context.Context, name string) error
	// SetEncryption encrypts the plaintext config at path with password
	SetEncryption(ctx context.Context, path, password string) error

	// Password returns the config password passed to rclone, if any
	Password() string
	// SetPassword sets the config password passed to subsequent rclone calls
	SetPassword(password string)
	// ClearPassword forgets the config password
	ClearPassword()
}

// CommandError describes a failed rclone invocation
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rclone %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Mentions reports whether stderr contains any of the given fragments
func (e *CommandError) Mentions(fragments ...string) bool {
	for _, f := range fragments {
		if strings.Contains(e.Stderr, f) {
			return true
		}
	}
	return false
}

// ShellClient implements Tool by shelling out to the rclone command.
// The config password is handed to rclone through the child environment
// only; the parent process environment is never modified.
type ShellClient struct {
	bin        string
	configPath string
	password   string
}

// NewShellClient creates a client for the rclone binary on PATH. An empty
// configPath lets rclone pick its default config location.
func NewShellClient(configPath string) *ShellClient {
	return &ShellClient{
		bin:        "rclone",
		configPath: configPath,
	}
}

// Installed reports whether rclone is on PATH
func (c *ShellClient) Installed() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// ConfigFile returns the config file rclone uses
func (c *ShellClient) ConfigFile(ctx context.Context) (string, error) {
	if c.configPath != "" {
		return c.configPath, nil
	}

	out, err := c.run(ctx, nil, "config", "file")
	if err != nil {
		return "", err
	}
	return parseConfigFileOutput(string(out))
}

// parseConfigFileOutput extracts the path from rclone config file output:
//
//	Configuration file is stored at:
//	/home/user/.config/rclone/rclone.conf
func parseConfigFileOutput(out string) (string, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasSuffix(line, ":") {
			return line, nil
		}
	}
	return "", fmt.Errorf("could not determine rclone config path from %q", out)
}

// Dump runs rclone config dump without ever prompting for a password
func (c *ShellClient) Dump(ctx context.Context) ([]byte, error) {
	return c.run(ctx, []string{"RCLONE_ASK_PASSWORD=false"}, "config", "dump")
}

// Show runs rclone config show, which prints the decrypted config
func (c *ShellClient) Show(ctx context.Context) (string, error) {
	out, err := c.run(ctx, []string{"RCLONE_ASK_PASSWORD=false"}, "config", "show")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Create runs rclone config create
func (c *ShellClient) Create(ctx context.Context, name, remoteType string, params []string) error {
	args := append([]string{"config", "create", name, remoteType}, params...)
	_, err := c.run(ctx, []string{"RCLONE_ASK_PASSWORD=false"}, args...)
	return err
}

// Delete runs rclone config delete
func (c *ShellClient) Delete(ctx context.Context, name string) error {
	_, err := c.run(ctx, []string{"RCLONE_ASK_PASSWORD=false"}, "config", "delete", name)
	return err
}

// SetEncryption encrypts the config at path. rclone reads the password from
// a password command whose stdin is our private pipe, so the password is
// never part of any argument list and never touches the disk.
func (c *ShellClient) SetEncryption(ctx context.Context, path, password string) error {
	args := []string{"--config", path, "config", "encryption", "set", "--password-command", passwordCommand}
	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = childEnv("")
	cmd.Stdin = strings.NewReader(password)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

// Password returns the current config password
func (c *ShellClient) Password() string {
	return c.password
}

// SetPassword sets the config password for subsequent calls
func (c *ShellClient) SetPassword(password string) {
	c.password = password
}

// ClearPassword forgets the config password
func (c *ShellClient) ClearPassword() {
	c.password = ""
}

// run executes rclone and returns stdout, or a *CommandError carrying stderr
func (c *ShellClient) run(ctx context.Context, extraEnv []string, args ...string) ([]byte, error) {
	if c.configPath != "" {
		args = append([]string{"--config", c.configPath}, args...)
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Env = append(childEnv(c.password), extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// childEnv returns the process environment without any inherited rclone
// password, plus the given password when set.
func childEnv(password string) []string {
	env := make([]string, 0, len(os.Environ())+1)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, PasswordEnv+"=") {
			continue
		}
		env = append(env, kv)
	}
	if password != "" {
		env = append(env, PasswordEnv+"="+password)
	}
	return env
}
