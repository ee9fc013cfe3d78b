package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// KeyFile is a private key in the output directory and its public companion
type KeyFile struct {
	Name    string // file name of the private key
	Private string
	Public  string // empty when no .pub file exists
}

// DiscoverKeyFiles lists the key files directly under dir. Hidden files and
// subdirectories are skipped and every .pub file is paired with the private
// key of the same name. A missing directory yields no files.
func DiscoverKeyFiles(fs afero.Fs, dir string) ([]KeyFile, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	byName := make(map[string]*KeyFile)
	var orphans []string
	for _, info := range entries {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if base, ok := strings.CutSuffix(name, ".pub"); ok {
			orphans = append(orphans, base)
			continue
		}
		byName[name] = &KeyFile{Name: name, Private: filepath.Join(dir, name)}
	}

	var files []KeyFile
	for _, base := range orphans {
		pub := filepath.Join(dir, base+".pub")
		if kf, ok := byName[base]; ok {
			kf.Public = pub
			continue
		}
		// public key without its private half
		files = append(files, KeyFile{Name: base, Public: pub})
	}
	for _, kf := range byName {
		files = append(files, *kf)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Paths returns the existing paths of the key file
func (k KeyFile) Paths() []string {
	var out []string
	if k.Private != "" {
		out = append(out, k.Private)
	}
	if k.Public != "" {
		out = append(out, k.Public)
	}
	return out
}

// KeyGen derives public keys from private keys
type KeyGen interface {
	PublicKey(ctx context.Context, privateKey string) (string, error)
}

// ShellKeyGen implements KeyGen with ssh-keygen -y
type ShellKeyGen struct{}

// NewShellKeyGen creates a ssh-keygen backed KeyGen
func NewShellKeyGen() *ShellKeyGen {
	return &ShellKeyGen{}
}

// Installed reports whether ssh-keygen is on PATH
func (g *ShellKeyGen) Installed() bool {
	_, err := exec.LookPath("ssh-keygen")
	return err == nil
}

// PublicKey writes the private key to a 0600 temporary file, which
// ssh-keygen requires, and removes it afterwards
func (g *ShellKeyGen) PublicKey(ctx context.Context, privateKey string) (string, error) {
	f, err := os.CreateTemp("", "pass-ssh-unpack-key-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary key file: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		return "", err
	}
	if _, err := f.WriteString(ensureNewline(privateKey)); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "ssh-keygen", "-y", "-f", f.Name())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ssh-keygen failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
