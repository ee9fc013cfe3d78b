package extract

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchAny(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		want     bool
	}{
		{name: "anything", patterns: nil, want: true},
		{name: "web-1", patterns: []string{"web-*"}, want: true},
		{name: "db1", patterns: []string{"web-*", "db?"}, want: true},
		{name: "db12", patterns: []string{"db?"}, want: false},
		{name: "Personal", patterns: []string{"personal"}, want: false},
		{name: "x", patterns: []string{"[x"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchAny(tt.name, tt.patterns))
		})
	}
}

func TestFilter_KeepsOrder(t *testing.T) {
	got := Filter([]string{"Work", "Personal", "Archive"}, []string{"P*", "W*"})
	assert.Equal(t, []string{"Work", "Personal"}, got)
}

func TestPatterns(t *testing.T) {
	assert.Equal(t, []string{"cli"}, Patterns([]string{"cli"}, []string{"cfg"}))
	assert.Equal(t, []string{"cfg"}, Patterns(nil, []string{"cfg"}))
}

func TestForHost(t *testing.T) {
	tests := []struct {
		title    string
		wantBase string
		wantOK   bool
	}{
		{title: "github", wantBase: "github", wantOK: true},
		{title: "github/laptop", wantBase: "github", wantOK: true},
		{title: "github/LAPTOP", wantBase: "github", wantOK: true},
		{title: "github/desktop", wantBase: "github", wantOK: false},
		{title: "work/github/laptop", wantBase: "work/github", wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			base, ok := ForHost(tt.title, "Laptop")
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "work-github", sanitize(" work/github "))
	assert.Equal(t, "My Server", sanitize("My Server"))
}

func TestTeleportUser(t *testing.T) {
	assert.Equal(t, "root", teleportUser("tsh ssh --proxy=p root@web-1", "me"))
	assert.Equal(t, "me", teleportUser("tsh ssh web-1", "me"))
	assert.Equal(t, "me", teleportUser("", "me"))
}

func TestDiscoverKeyFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, path := range []string{
		"/keys/db1",
		"/keys/db1.pub",
		"/keys/web",
		"/keys/lost.pub",
		"/keys/.lock",
		"/keys/sub/nested",
	} {
		require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0600))
	}

	files, err := DiscoverKeyFiles(fs, "/keys")
	require.NoError(t, err)

	assert.Equal(t, []KeyFile{
		{Name: "db1", Private: "/keys/db1", Public: "/keys/db1.pub"},
		{Name: "lost", Public: "/keys/lost.pub"},
		{Name: "web", Private: "/keys/web"},
	}, files)
	assert.Equal(t, []string{"/keys/db1", "/keys/db1.pub"}, files[0].Paths())
}

func TestDiscoverKeyFiles_MissingDir(t *testing.T) {
	files, err := DiscoverKeyFiles(afero.NewMemMapFs(), "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, files)
}
