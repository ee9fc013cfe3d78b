package rclone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/schaermu/pass-ssh-unpack/internal/profile"
)

// PasswordSource supplies a config password when rclone asks for one. An
// empty answer means no password is available.
type PasswordSource func(ctx context.Context) (string, error)

// StateReader reads the current remotes through rclone config dump
type StateReader struct {
	tool     Tool
	password PasswordSource
	logger   *slog.Logger
}

// NewStateReader creates a reader. password may be nil when no interactive
// source is available.
func NewStateReader(tool Tool, password PasswordSource, logger *slog.Logger) *StateReader {
	return &StateReader{
		tool:     tool,
		password: password,
		logger:   logger,
	}
}

// Read returns the current remotes. An unreadable or unparsable dump yields
// an empty state; only password failures are returned as errors.
func (r *StateReader) Read(ctx context.Context) (profile.State, error) {
	out, err := r.tool.Dump(ctx)
	if err == nil {
		return r.decode(out), nil
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || !cmdErr.Mentions("unable to decrypt configuration", PasswordEnv) {
		r.logger.Debug("rclone config dump failed, treating as empty", "error", err)
		return profile.State{}, nil
	}

	if r.tool.Password() != "" {
		r.tool.ClearPassword()
		return nil, ErrWrongPassword
	}

	if err := r.askPassword(ctx); err != nil {
		return nil, err
	}

	out, err = r.tool.Dump(ctx)
	if err != nil {
		if errors.As(err, &cmdErr) && cmdErr.Mentions("wrong password", "unable to decrypt") {
			r.tool.ClearPassword()
			return nil, ErrWrongPassword
		}
		r.logger.Debug("rclone config dump retry failed, treating as empty", "error", err)
		return profile.State{}, nil
	}

	return r.decode(out), nil
}

func (r *StateReader) askPassword(ctx context.Context) error {
	return AskPassword(ctx, r.tool, r.password)
}

// AskPassword asks source for the config password and sets it on tool. A nil
// source or an empty answer yields ErrPasswordRequired.
func AskPassword(ctx context.Context, tool Tool, source PasswordSource) error {
	if source == nil {
		return passwordRequired()
	}

	password, err := source(ctx)
	if err != nil {
		return fmt.Errorf("failed to read rclone password: %w", err)
	}
	if password == "" {
		return passwordRequired()
	}

	tool.SetPassword(password)
	return nil
}

func passwordRequired() error {
	return fmt.Errorf("%w; set password_path under [rclone] in the config file, e.g. password_path = \"pass://Personal/rclone/password\"", ErrPasswordRequired)
}

// decode parses dump output. Fields are read leniently and an entry that is
// not an object is dropped on its own, so one odd remote does not hide all
// the others.
func (r *StateReader) decode(out []byte) profile.State {
	state := make(profile.State)
	if len(out) == 0 {
		return state
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		r.logger.Warn("failed to parse rclone config dump, treating as empty", "error", err)
		return state
	}

	for name, msg := range raw {
		var fields map[string]any
		if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
			r.logger.Warn("skipping unreadable remote", "remote", name, "error", err)
			continue
		}

		str := make(map[string]string, len(fields))
		for k, v := range fields {
			switch v := v.(type) {
			case string:
				str[k] = v
			case nil:
			default:
				str[k] = fmt.Sprint(v)
			}
		}

		if remote, ok := fieldsToRemote(str); ok {
			state[name] = remote
		}
	}
	return state
}
