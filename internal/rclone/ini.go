package rclone

import (
	"strings"

	"github.com/schaermu/pass-ssh-unpack/internal/profile"
)

// ParseText parses rclone config text into remotes. Sections without a type
// key are dropped; unknown keys are ignored.
func ParseText(content string) profile.State {
	state := make(profile.State)
	var section string
	var inSection bool
	fields := make(map[string]string)

	flush := func() {
		if !inSection {
			return
		}
		if remote, ok := fieldsToRemote(fields); ok {
			state[section] = remote
		}
	}

	for _, line := range splitLines(content) {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") && len(line) >= 2 {
			flush()
			section = line[1 : len(line)-1]
			inSection = true
			fields = make(map[string]string)
			continue
		}

		if key, value, ok := strings.Cut(line, "="); ok {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	flush()

	return state
}

func fieldsToRemote(fields map[string]string) (profile.Existing, bool) {
	remoteType, ok := fields["type"]
	if !ok {
		return profile.Existing{}, false
	}

	opt := func(key string) *string {
		if v, ok := fields[key]; ok {
			return &v
		}
		return nil
	}

	return profile.Existing{
		Type:          remoteType,
		Description:   opt("description"),
		Host:          opt("host"),
		User:          opt("user"),
		KeyFile:       opt("key_file"),
		SSH:           opt("ssh"),
		ServerCommand: opt("server_command"),
		Remote:        opt("remote"),
	}, true
}

// RemoveSection drops the [name] header and every line up to the next
// section header or the end of the content. Other lines are kept verbatim.
func RemoveSection(content, name string) string {
	header := "[" + name + "]"
	var b strings.Builder
	b.Grow(len(content))
	skip := false

	for _, line := range splitLines(content) {
		if strings.HasPrefix(line, "[") {
			skip = line == header
		}
		if !skip {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return b.String()
}

// ReplaceSection removes any section called name and appends a freshly
// rendered one for def.
func ReplaceSection(content, name string, def profile.Definition) string {
	content = RemoveSection(content, name)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + RenderSection(name, def)
}

// RenderSection renders def as a config section. Field order is fixed and the
// ownership marker always comes last.
func RenderSection(name string, def profile.Definition) string {
	var b strings.Builder
	b.WriteString("[" + name + "]\n")
	b.WriteString("type = " + def.Kind.Type() + "\n")
	for _, f := range fields(def) {
		b.WriteString(f.key + " = " + f.value + "\n")
	}
	b.WriteString("description = " + profile.Marker + "\n")
	return b.String()
}

// Params renders def as key=value arguments for rclone config create,
// including the ownership marker.
func Params(def profile.Definition) []string {
	fs := fields(def)
	params := make([]string, 0, len(fs)+1)
	for _, f := range fs {
		params = append(params, f.key+"="+f.value)
	}
	return append(params, "description="+profile.Marker)
}

type field struct {
	key   string
	value string
}

// fields returns the type specific fields of def in emission order
func fields(def profile.Definition) []field {
	if def.Kind == profile.KindAlias {
		return []field{{"remote", def.Target + ":"}}
	}

	fs := []field{
		{"host", def.Host},
		{"user", def.User},
	}
	if def.KeyFile != "" {
		fs = append(fs, field{"key_file", def.KeyFile})
	} else {
		fs = append(fs, field{"ask_password", "true"})
	}
	if def.SSH != "" {
		fs = append(fs, field{"ssh", def.SSH})
	}
	if def.ServerCommand != "" {
		fs = append(fs, field{"server_command", def.ServerCommand})
	}
	return fs
}

// splitLines splits content into lines without their terminators. A final
// newline does not produce a trailing empty line.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
