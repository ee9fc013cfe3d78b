package extract

import (
	"path"
	"strings"
)

// MatchAny reports whether name matches one of the glob patterns. An empty
// pattern list matches everything; malformed patterns never match.
func MatchAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Filter returns the names matching any of patterns, in input order
func Filter(names, patterns []string) []string {
	var out []string
	for _, n := range names {
		if MatchAny(n, patterns) {
			out = append(out, n)
		}
	}
	return out
}

// Patterns returns the CLI patterns when given, else the configured defaults
func Patterns(cli, defaults []string) []string {
	if len(cli) > 0 {
		return cli
	}
	return defaults
}

// ForHost splits a "name/machine" title. Titles without a slash apply to
// every machine; otherwise the last segment must equal hostname, compared
// case-insensitively. The returned base is the title up to its last slash.
func ForHost(title, hostname string) (base string, ok bool) {
	i := strings.LastIndex(title, "/")
	if i < 0 {
		return title, true
	}
	return title[:i], strings.EqualFold(title[i+1:], hostname)
}
