package rclone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// encryptedMarker appears in rclone config files that are encrypted at rest
const encryptedMarker = "RCLONE_ENCRYPT_"

// IsEncrypted reports whether the config file at path is encrypted. A file
// that cannot be read counts as not encrypted.
func IsEncrypted(fs afero.Fs, path string) bool {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), encryptedMarker)
}

// Session holds the decrypted rclone config in memory. All edits happen on
// the in-memory text; the backing file is only written by Finalize, so a
// session that is abandoned leaves the file exactly as it was.
type Session struct {
	tool          Tool
	fs            afero.Fs
	path          string
	content       string
	password      string
	wasEncrypted  bool
	alwaysEncrypt bool
	modified      bool
	finalized     bool
}

// Open decrypts the config into memory using the password currently set on
// tool. The password is captured for re-encryption on Finalize.
func Open(ctx context.Context, tool Tool, fs afero.Fs, path string, wasEncrypted, alwaysEncrypt bool) (*Session, error) {
	password := tool.Password()

	content, err := tool.Show(ctx)
	if err != nil {
		var cmdErr *CommandError
		if password != "" && errors.As(err, &cmdErr) && cmdErr.Mentions("wrong password", "unable to decrypt") {
			tool.ClearPassword()
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("failed to decrypt rclone config: %w", err)
	}

	return &Session{
		tool:          tool,
		fs:            fs,
		path:          path,
		content:       content,
		password:      password,
		wasEncrypted:  wasEncrypted,
		alwaysEncrypt: alwaysEncrypt,
	}, nil
}

// Path returns the backing config file path
func (s *Session) Path() string {
	return s.path
}

// Text returns the current in-memory config
func (s *Session) Text() string {
	return s.content
}

// Mutate replaces the config with fn applied to it
func (s *Session) Mutate(fn func(string) string) {
	s.content = fn(s.content)
	s.modified = true
}

// Modified reports whether Mutate was called
func (s *Session) Modified() bool {
	return s.modified
}

// ShouldEncrypt reports whether Finalize will encrypt the written file
func (s *Session) ShouldEncrypt() bool {
	return s.password != "" && (s.wasEncrypted || s.alwaysEncrypt)
}

// Finalize writes the config to disk and re-encrypts it when needed. It is a
// no-op when already finalized or when nothing was modified.
func (s *Session) Finalize(ctx context.Context) error {
	if s.finalized {
		return nil
	}

	if s.modified {
		mode := os.FileMode(0600)
		if info, err := s.fs.Stat(s.path); err == nil {
			mode = info.Mode().Perm()
		}
		original, readErr := afero.ReadFile(s.fs, s.path)

		if err := afero.WriteFile(s.fs, s.path, []byte(s.content), mode); err != nil {
			return fmt.Errorf("failed to write rclone config: %w", err)
		}

		if s.ShouldEncrypt() {
			if err := s.tool.SetEncryption(ctx, s.path, s.password); err != nil {
				// Never leave a plaintext config behind a failed encryption.
				if readErr == nil {
					_ = afero.WriteFile(s.fs, s.path, original, mode)
				} else {
					_ = s.fs.Remove(s.path)
				}
				return fmt.Errorf("failed to encrypt rclone config: %w", err)
			}
		}
	}

	s.finalized = true
	return nil
}

// Scratch returns a copy of the session that can be mutated freely but never
// writes to disk.
func (s *Session) Scratch() *Session {
	c := *s
	c.modified = false
	c.finalized = true
	return &c
}

// Abandon discards all in-memory changes without touching the backing file.
// It is safe to call after Finalize.
func (s *Session) Abandon() {
	s.finalized = true
}
