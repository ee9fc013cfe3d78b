// Package protonpass wraps the Proton Pass CLI (pass-cli).
package protonpass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// TeleportSection is the custom item section holding Teleport remote settings
const TeleportSection = "Teleport Rclone Config"

// Client provides the secret store operations used by pass-ssh-unpack
type Client interface {
	// Installed reports whether pass-cli is available
	Installed() bool
	// LoggedIn reports whether pass-cli has an active session
	LoggedIn(ctx context.Context) bool
	// Login runs the interactive pass-cli login on the current terminal
	Login(ctx context.Context) error

	ListVaults(ctx context.Context) ([]string, error)
	ListSSHKeys(ctx context.Context, vault string) ([]Item, error)
	ListTeleportItems(ctx context.Context, vault string) ([]Item, error)
	ListItemTitles(ctx context.Context, vault string) ([]string, error)
	VaultExists(ctx context.Context, name string) (bool, error)

	// GetField resolves a pass://vault/item/field reference
	GetField(ctx context.Context, reference string) (string, error)
	UpdateField(ctx context.Context, vault, title, field, value string) error
	CreateVault(ctx context.Context, name string) error
	CreateTeleportItem(ctx context.Context, vault, title, sshCommand, serverCommand string) error
}

// Item is an SSH key or Teleport record. Empty fields were absent.
type Item struct {
	Title         string
	PrivateKey    string
	PublicKey     string
	Host          string
	Username      string
	Aliases       string
	SSH           string
	ServerCommand string
	Jump          string
}

// ShellClient implements Client by shelling out to pass-cli
type ShellClient struct {
	bin string
}

// NewShellClient creates a client for pass-cli on PATH
func NewShellClient() *ShellClient {
	return &ShellClient{bin: "pass-cli"}
}

// Installed reports whether pass-cli is on PATH
func (c *ShellClient) Installed() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// LoggedIn runs pass-cli info
func (c *ShellClient) LoggedIn(ctx context.Context) bool {
	_, err := c.run(ctx, "info")
	return err == nil
}

// Login runs pass-cli login attached to the current terminal
func (c *ShellClient) Login(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.bin, "login")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pass-cli login failed: %w", err)
	}
	return nil
}

// ListVaults returns all vault names except Trash
func (c *ShellClient) ListVaults(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "vault", "list", "--output", "json")
	if err != nil {
		return nil, err
	}
	return parseVaults(out)
}

// ListSSHKeys returns the active SSH key items in vault. A vault without
// keys yields an empty list.
func (c *ShellClient) ListSSHKeys(ctx context.Context, vault string) ([]Item, error) {
	out, err := c.run(ctx, "item", "list", vault, "--filter-type", "ssh-key", "--filter-state", "active", "--output", "json")
	if err != nil || len(out) == 0 {
		return nil, nil
	}
	return parseSSHKeys(out)
}

// ListTeleportItems returns the active custom items in vault that carry a
// Teleport section with an SSH or Server Command field
func (c *ShellClient) ListTeleportItems(ctx context.Context, vault string) ([]Item, error) {
	out, err := c.run(ctx, "item", "list", vault, "--filter-type", "custom", "--filter-state", "active", "--output", "json")
	if err != nil || len(out) == 0 {
		return nil, nil
	}
	return parseTeleportItems(out)
}

// ListItemTitles returns the titles of all active items in vault
func (c *ShellClient) ListItemTitles(ctx context.Context, vault string) ([]string, error) {
	out, err := c.run(ctx, "item", "list", vault, "--filter-state", "active", "--output", "json")
	if err != nil || len(out) == 0 {
		return nil, nil
	}

	resp, err := decodeItems(out)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		titles = append(titles, item.Content.Title)
	}
	return titles, nil
}

// VaultExists reports whether a vault named name exists
func (c *ShellClient) VaultExists(ctx context.Context, name string) (bool, error) {
	vaults, err := c.ListVaults(ctx)
	if err != nil {
		return false, err
	}
	for _, v := range vaults {
		if v == name {
			return true, nil
		}
	}
	return false, nil
}

// GetField resolves a secret reference such as pass://Personal/rclone/password
func (c *ShellClient) GetField(ctx context.Context, reference string) (string, error) {
	out, err := c.run(ctx, "item", "view", reference)
	if err != nil {
		return "", fmt.Errorf("failed to get value from %q: %w", reference, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// UpdateField sets a single field on the item titled title
func (c *ShellClient) UpdateField(ctx context.Context, vault, title, field, value string) error {
	if _, err := c.run(ctx, "item", "update", "--vault-name", vault, "--item-title", title, "--field", field+"="+value); err != nil {
		return fmt.Errorf("failed to update field %q: %w", field, err)
	}
	return nil
}

// CreateVault creates a vault
func (c *ShellClient) CreateVault(ctx context.Context, name string) error {
	if _, err := c.run(ctx, "vault", "create", "--name", name); err != nil {
		return fmt.Errorf("failed to create vault %q: %w", name, err)
	}
	return nil
}

// CreateTeleportItem creates a custom item holding the Teleport SSH command
// and sftp server path. The item template is passed through a private
// temporary file that is removed afterwards.
func (c *ShellClient) CreateTeleportItem(ctx context.Context, vault, title, sshCommand, serverCommand string) error {
	data, err := teleportTemplate(title, sshCommand, serverCommand)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "pass-ssh-unpack-item-*.json")
	if err != nil {
		return fmt.Errorf("failed to create template file: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to restrict template file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write template file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	if _, err := c.run(ctx, "item", "create", "custom", "--vault-name", vault, "--from-template", f.Name()); err != nil {
		return fmt.Errorf("failed to create item %q: %w", title, err)
	}
	return nil
}

// run executes pass-cli and returns stdout
func (c *ShellClient) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pass-cli %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func teleportTemplate(title, sshCommand, serverCommand string) ([]byte, error) {
	type templateField struct {
		FieldName string `json:"field_name"`
		FieldType string `json:"field_type"`
		Value     string `json:"value"`
	}
	type templateSection struct {
		SectionName string          `json:"section_name"`
		Fields      []templateField `json:"fields"`
	}
	type template struct {
		Title    string            `json:"title"`
		Note     string            `json:"note"`
		Sections []templateSection `json:"sections"`
	}

	return json.Marshal(template{
		Title: title,
		Sections: []templateSection{{
			SectionName: TeleportSection,
			Fields: []templateField{
				{FieldName: "SSH", FieldType: "text", Value: sshCommand},
				{FieldName: "Server Command", FieldType: "text", Value: serverCommand},
			},
		}},
	})
}
