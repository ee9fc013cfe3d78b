package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_PlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, false)

	p.Section("Syncing rclone remotes...")
	p.Created("db1", "h")
	p.Updated("web", "")
	p.Deleted("old", "key file missing")
	p.Would("delete", "stale")

	want := "Syncing rclone remotes...\n" +
		"  + db1 (h)\n" +
		"  ~ web\n" +
		"  - old (key file missing)\n" +
		"  Would delete: stale\n"
	assert.Equal(t, want, buf.String())
}

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, true)

	p.Section("x")
	p.Created("db1", "")
	p.Summary([]Count{{N: 1, Label: "created"}}, "")
	p.Diff("a\n", "b\n")

	assert.Empty(t, buf.String())
}

func TestPrinter_Summary(t *testing.T) {
	tests := []struct {
		name     string
		counts   []Count
		fallback string
		want     string
	}{
		{
			name:   "non-zero counts only",
			counts: []Count{{2, "created"}, {0, "updated"}, {1, "unchanged"}},
			want:   "  2 created, 1 unchanged\n",
		},
		{
			name:     "all zero uses fallback",
			counts:   []Count{{0, "created"}},
			fallback: "No changes",
			want:     "  No changes\n",
		},
		{
			name:   "all zero without fallback",
			counts: []Count{{0, "created"}},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, false).Summary(tt.counts, tt.fallback)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestLineDiff(t *testing.T) {
	before := "[a]\ntype = alias\nremote = b:\n\n[b]\ntype = sftp\nhost = old\nuser = u\n"
	after := "[a]\ntype = alias\nremote = b:\n\n[b]\ntype = sftp\nhost = new\nuser = u\n"

	got := LineDiff(before, after)

	assert.Equal(t, "...\n [b]\n type = sftp\n-host = old\n+host = new\n user = u\n", got)
}

func TestLineDiff_Equal(t *testing.T) {
	assert.Empty(t, LineDiff("[a]\n", "[a]\n"))
}

func TestLineDiff_Append(t *testing.T) {
	got := LineDiff("[a]\ntype = s3\n", "[a]\ntype = s3\n[b]\ntype = alias\n")
	assert.Equal(t, " [a]\n type = s3\n+[b]\n+type = alias\n", got)
}

func TestPrinter_DiffNoChanges(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Diff("x\n", "x\n")
	assert.Equal(t, "  (no changes to the rclone config)\n", buf.String())
}
