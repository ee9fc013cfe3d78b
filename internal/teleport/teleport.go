// Package teleport wraps the Teleport CLI (tsh).
package teleport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"
)

// DefaultSubsystem is used when the sftp server cannot be located on a node
const DefaultSubsystem = "/usr/lib/openssh/sftp-server"

const detectScript = `find /usr -name "sftp-server" -type f 2>/dev/null | head -1`

// ErrNotLoggedIn is returned by Status when tsh has no active profile
var ErrNotLoggedIn = errors.New("not logged into Teleport, run 'tsh login' first")

// Status describes the active tsh profile
type Status struct {
	ProfileURL string `json:"profile_url"`
	Username   string `json:"username"`
	Cluster    string `json:"cluster"`
}

// Client provides the Teleport operations used by import-teleport
type Client interface {
	// Installed reports whether tsh is available
	Installed() bool
	// Status returns the active profile or ErrNotLoggedIn
	Status(ctx context.Context) (*Status, error)
	// ListNodes returns the hostnames of all reachable nodes
	ListNodes(ctx context.Context) ([]string, error)
	// Subsystem locates the sftp server binary on host
	Subsystem(ctx context.Context, host string) string
}

// ShellClient implements Client by shelling out to tsh
type ShellClient struct {
	bin string
}

// NewShellClient creates a client for tsh on PATH
func NewShellClient() *ShellClient {
	return &ShellClient{bin: "tsh"}
}

// Installed reports whether tsh is on PATH
func (c *ShellClient) Installed() bool {
	_, err := exec.LookPath(c.bin)
	return err == nil
}

// Status runs tsh status. A failing command means no active login.
func (c *ShellClient) Status(ctx context.Context) (*Status, error) {
	cmd := exec.CommandContext(ctx, c.bin, "status", "--format=json")
	out, err := cmd.Output()
	if err != nil {
		return nil, ErrNotLoggedIn
	}

	var resp struct {
		Active *Status `json:"active"`
	}
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tsh status output: %w", err)
	}
	if resp.Active == nil {
		return nil, ErrNotLoggedIn
	}
	return resp.Active, nil
}

// ListNodes runs tsh ls
func (c *ShellClient) ListNodes(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, c.bin, "ls", "--format=json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tsh ls failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseNodes(stdout.Bytes())
}

// Subsystem searches /usr on host for sftp-server and falls back to
// DefaultSubsystem when nothing is found or the command fails
func (c *ShellClient) Subsystem(ctx context.Context, host string) string {
	cmd := exec.CommandContext(ctx, c.bin, "ssh", host, detectScript)
	out, err := cmd.Output()
	path := strings.TrimSpace(string(out))
	if err != nil || path == "" {
		return DefaultSubsystem
	}
	return path
}

// Proxy derives the --proxy value from the profile URL. The port is dropped
// when it is the HTTPS default.
func (s *Status) Proxy() (string, error) {
	u, err := url.Parse(s.ProfileURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse Teleport profile URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("no host in Teleport profile URL %q", s.ProfileURL)
	}

	port := u.Port()
	if port == "" || port == "443" {
		return host, nil
	}
	return net.JoinHostPort(host, port), nil
}

// SSHCommand builds the rclone ssh override for a node
func SSHCommand(proxy, user, node string) string {
	return fmt.Sprintf("tsh ssh --proxy=%s %s@%s", proxy, user, node)
}

func parseNodes(data []byte) ([]string, error) {
	var nodes []struct {
		Spec struct {
			Hostname string `json:"hostname"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse tsh ls output: %w", err)
	}

	hosts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Spec.Hostname != "" {
			hosts = append(hosts, n.Spec.Hostname)
		}
	}
	return hosts, nil
}
