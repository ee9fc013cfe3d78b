package profile

import (
	"sort"
	"strings"
)

// Marker is the description value that identifies remotes owned by pass-ssh-unpack
const Marker = "managed by pass-ssh-unpack"

// Kind selects the variant of a Definition
type Kind int

const (
	KindConnection Kind = iota
	KindAlias
)

// rclone backend type names
const (
	TypeSFTP  = "sftp"
	TypeAlias = "alias"
)

// Type returns the rclone backend type for the kind
func (k Kind) Type() string {
	if k == KindAlias {
		return TypeAlias
	}
	return TypeSFTP
}

// Definition is the desired state of a single rclone remote
type Definition struct {
	Kind Kind

	// Connection fields. Empty optional fields are treated as absent.
	Host          string
	User          string
	KeyFile       string
	SSH           string
	ServerCommand string

	// Alias field
	Target string
}

// Connection returns a connection definition
func Connection(host, user, keyFile string) Definition {
	return Definition{Kind: KindConnection, Host: host, User: user, KeyFile: keyFile}
}

// Alias returns an alias definition pointing at target
func Alias(target string) Definition {
	return Definition{Kind: KindAlias, Target: target}
}

// Entry is one extracted credential record, the input to BuildDesired
type Entry struct {
	RemoteName    string
	Host          string
	User          string
	KeyFile       string
	Aliases       string // comma separated
	SSH           string
	ServerCommand string
}

// Desired maps remote names to their desired definitions
type Desired map[string]Definition

// BuildDesired converts entries into a desired set. Entries are applied in
// order, so a later entry (or alias) with the same name replaces an earlier one.
func BuildDesired(entries []Entry) Desired {
	desired := make(Desired)
	for _, e := range entries {
		if e.RemoteName == "" {
			continue
		}

		desired[e.RemoteName] = Definition{
			Kind:          KindConnection,
			Host:          e.Host,
			User:          e.User,
			KeyFile:       e.KeyFile,
			SSH:           e.SSH,
			ServerCommand: e.ServerCommand,
		}

		for _, alias := range SplitAliases(e.Aliases) {
			if alias == e.RemoteName {
				continue
			}
			desired[alias] = Alias(e.RemoteName)
		}
	}
	return desired
}

// SplitAliases splits a comma separated alias list, dropping blanks
func SplitAliases(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Names returns the desired names in lexicographic order
func (d Desired) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Existing is a remote as found in the rclone configuration. Every field
// except Type is optional; nil means the key was absent.
type Existing struct {
	Type          string
	Description   *string
	Host          *string
	User          *string
	KeyFile       *string
	SSH           *string
	ServerCommand *string
	Remote        *string
}

// Owned reports whether the remote carries the exact ownership marker
func (e Existing) Owned() bool {
	return e.Description != nil && *e.Description == Marker
}

// AliasTarget returns the remote name an alias points at, with the trailing
// separator and any path stripped ("db1:" and "db1:/srv" both yield "db1").
func (e Existing) AliasTarget() string {
	if e.Remote == nil {
		return ""
	}
	target, _, _ := strings.Cut(*e.Remote, ":")
	return target
}

// Matches reports whether the existing remote is field-for-field equal to def
func (e Existing) Matches(def Definition) bool {
	switch def.Kind {
	case KindConnection:
		return e.Type == TypeSFTP &&
			equal(e.Host, def.Host, true) &&
			equal(e.User, def.User, true) &&
			equal(e.KeyFile, def.KeyFile, false) &&
			equal(e.SSH, def.SSH, false) &&
			equal(e.ServerCommand, def.ServerCommand, false)
	case KindAlias:
		return e.Type == TypeAlias &&
			e.Remote != nil &&
			strings.TrimRight(*e.Remote, ":") == def.Target
	}
	return false
}

// equal compares an optional existing value with a desired one. Required
// fields must be present; optional fields treat "" as absent.
func equal(have *string, want string, required bool) bool {
	if have == nil {
		return !required && want == ""
	}
	if !required && want == "" {
		return false
	}
	return *have == want
}

// State maps remote names to the remotes found in the rclone configuration
type State map[string]Existing

// Owned returns the names of all owned remotes in lexicographic order
func (s State) Owned() []string {
	var names []string
	for name, r := range s {
		if r.Owned() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Ptr returns a pointer to s, for building Existing values
func Ptr(s string) *string {
	return &s
}
