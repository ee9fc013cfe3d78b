package testutil

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"github.com/schaermu/pass-ssh-unpack/internal/rclone"
)

const encryptedHeader = "# Encrypted rclone configuration File\n\nRCLONE_ENCRYPT_V0:\n"

// FakeRclone is an in-memory stand-in for the rclone binary. It keeps the
// config file on an afero filesystem and encrypts it with a reversible
// encoding so tests can check what reaches disk.
type FakeRclone struct {
	Fs   afero.Fs
	Path string

	// FilePassword is the password the file on disk is encrypted with, ""
	// for a plaintext file.
	FilePassword string

	NotInstalled bool
	CreateErr    map[string]error
	DeleteErr    map[string]error
	EncryptErr   error

	// Calls records mutating invocations, e.g. "create db1 sftp".
	Calls []string

	password string
}

// NewFakeRclone creates a fake whose config file at path holds content. An
// empty filePassword writes the file in plaintext.
func NewFakeRclone(fs afero.Fs, path, content, filePassword string) (*FakeRclone, error) {
	f := &FakeRclone{Fs: fs, Path: path, FilePassword: filePassword}
	if err := f.write(content); err != nil {
		return nil, err
	}
	return f, nil
}

// Plaintext returns the decoded config file contents regardless of the
// password set on the fake
func (f *FakeRclone) Plaintext() (string, error) {
	data, err := afero.ReadFile(f.Fs, f.Path)
	if err != nil {
		return "", err
	}
	return decode(string(data))
}

// Raw returns the config file bytes as stored
func (f *FakeRclone) Raw() (string, error) {
	data, err := afero.ReadFile(f.Fs, f.Path)
	return string(data), err
}

func (f *FakeRclone) Installed() bool { return !f.NotInstalled }

func (f *FakeRclone) ConfigFile(_ context.Context) (string, error) {
	return f.Path, nil
}

func (f *FakeRclone) Dump(_ context.Context) ([]byte, error) {
	content, err := f.read("dump")
	if err != nil {
		return nil, err
	}

	sections := make(map[string]map[string]string)
	var current map[string]string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = make(map[string]string)
			sections[line[1:len(line)-1]] = current
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok && current != nil {
			current[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return json.Marshal(sections)
}

func (f *FakeRclone) Show(_ context.Context) (string, error) {
	return f.read("show")
}

func (f *FakeRclone) Create(_ context.Context, name, remoteType string, params []string) error {
	f.Calls = append(f.Calls, fmt.Sprintf("create %s %s", name, remoteType))
	if err := f.CreateErr[name]; err != nil {
		return err
	}

	content, err := f.read("create")
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(rclone.RemoveSection(content, name))
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "[%s]\ntype = %s\n", name, remoteType)
	for _, p := range params {
		key, value, _ := strings.Cut(p, "=")
		fmt.Fprintf(&sb, "%s = %s\n", key, value)
	}
	return f.write(sb.String())
}

func (f *FakeRclone) Delete(_ context.Context, name string) error {
	f.Calls = append(f.Calls, "delete "+name)
	if err := f.DeleteErr[name]; err != nil {
		return err
	}

	content, err := f.read("delete")
	if err != nil {
		return err
	}
	return f.write(rclone.RemoveSection(content, name))
}

func (f *FakeRclone) SetEncryption(_ context.Context, path, password string) error {
	f.Calls = append(f.Calls, "encrypt")
	if f.EncryptErr != nil {
		return f.EncryptErr
	}
	if path != f.Path {
		return fmt.Errorf("unexpected config path %q", path)
	}

	data, err := afero.ReadFile(f.Fs, f.Path)
	if err != nil {
		return err
	}
	if strings.Contains(string(data), "RCLONE_ENCRYPT_") {
		return errors.New("config is already encrypted")
	}

	f.FilePassword = password
	return f.write(string(data))
}

func (f *FakeRclone) Password() string            { return f.password }
func (f *FakeRclone) SetPassword(password string) { f.password = password }
func (f *FakeRclone) ClearPassword()              { f.password = "" }

// read returns the plaintext config the way rclone would see it with the
// password currently set
func (f *FakeRclone) read(cmd string) (string, error) {
	data, err := afero.ReadFile(f.Fs, f.Path)
	if err != nil {
		return "", nil
	}

	raw := string(data)
	if !strings.HasPrefix(raw, encryptedHeader) {
		return raw, nil
	}

	switch f.password {
	case "":
		return "", &rclone.CommandError{
			Args:   []string{"config", cmd},
			Stderr: "Failed to load config file: unable to decrypt configuration and not allowed to ask for password - set RCLONE_CONFIG_PASS to your configuration password",
			Err:    errors.New("exit status 1"),
		}
	case f.FilePassword:
		return decode(raw)
	default:
		return "", &rclone.CommandError{
			Args:   []string{"config", cmd},
			Stderr: "Failed to load config file: unable to decrypt configuration: wrong password",
			Err:    errors.New("exit status 1"),
		}
	}
}

func (f *FakeRclone) write(content string) error {
	data := content
	if f.FilePassword != "" {
		data = encryptedHeader + base64.StdEncoding.EncodeToString([]byte(content)) + "\n"
	}
	return afero.WriteFile(f.Fs, f.Path, []byte(data), 0600)
}

func decode(raw string) (string, error) {
	if !strings.HasPrefix(raw, encryptedHeader) {
		return raw, nil
	}
	plain, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(raw, encryptedHeader)))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
