package teleport

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Proxy(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{url: "https://teleport.example.com:443", want: "teleport.example.com"},
		{url: "https://teleport.example.com", want: "teleport.example.com"},
		{url: "https://proxy.example.com:3080", want: "proxy.example.com:3080"},
		{url: "not a url at all", wantErr: true},
		{url: "https://:3080", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := (&Status{ProfileURL: tt.url}).Proxy()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSSHCommand(t *testing.T) {
	assert.Equal(t, "tsh ssh --proxy=tp.example.com root@web-1", SSHCommand("tp.example.com", "root", "web-1"))
}

func TestParseNodes(t *testing.T) {
	hosts, err := parseNodes([]byte(`[
		{"kind": "node", "spec": {"hostname": "web-1", "addr": "10.0.0.1:3022"}},
		{"kind": "node", "spec": {"hostname": ""}},
		{"kind": "node", "spec": {"hostname": "db-1"}}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"web-1", "db-1"}, hosts)

	_, err = parseNodes([]byte(`{"nodes": []}`))
	require.Error(t, err)
}

func fakeTsh(t *testing.T, script string) *ShellClient {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a unix shell")
	}
	bin := filepath.Join(t.TempDir(), "tsh")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0755))
	return &ShellClient{bin: bin}
}

func TestShellClient_Status(t *testing.T) {
	c := fakeTsh(t, `echo '{"active":{"profile_url":"https://tp.example.com:443","username":"alice","cluster":"tp"}}'`)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Status{ProfileURL: "https://tp.example.com:443", Username: "alice", Cluster: "tp"}, status)
}

func TestShellClient_StatusNotLoggedIn(t *testing.T) {
	t.Run("command fails", func(t *testing.T) {
		c := fakeTsh(t, "exit 1\n")
		_, err := c.Status(context.Background())
		require.ErrorIs(t, err, ErrNotLoggedIn)
	})

	t.Run("no active profile", func(t *testing.T) {
		c := fakeTsh(t, `echo '{"active":null}'`)
		_, err := c.Status(context.Background())
		require.ErrorIs(t, err, ErrNotLoggedIn)
	})
}

func TestShellClient_ListNodesError(t *testing.T) {
	c := fakeTsh(t, "echo 'access denied' >&2\nexit 1\n")

	_, err := c.ListNodes(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestShellClient_Subsystem(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		c := fakeTsh(t, `[ "$1" = ssh ] && [ "$2" = web-1 ] && echo "/usr/libexec/openssh/sftp-server"`+"\n")
		assert.Equal(t, "/usr/libexec/openssh/sftp-server", c.Subsystem(context.Background(), "web-1"))
	})

	t.Run("nothing found", func(t *testing.T) {
		c := fakeTsh(t, "exit 0\n")
		assert.Equal(t, DefaultSubsystem, c.Subsystem(context.Background(), "web-1"))
	})

	t.Run("command fails", func(t *testing.T) {
		c := fakeTsh(t, "echo /usr/bin/sftp-server\nexit 255\n")
		assert.Equal(t, DefaultSubsystem, c.Subsystem(context.Background(), "web-1"))
	})
}
