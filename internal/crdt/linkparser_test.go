package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Canonicalize_Forms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from     string
		target   string
		format   LinkFormat
		exists   map[string]bool
		want     string
		wantErr  bool
	}{
		{
			name:   "markdown link",
			from:   "journal/2026-01-01.md",
			target: "[daily recap](weekly.md)",
			want:   "journal/weekly.md",
		},
		{
			name:   "workspace root reference",
			from:   "journal/2026-01-01.md",
			target: "/attachments/photo.md",
			want:   "attachments/photo.md",
		},
		{
			name:   "plain relative, unambiguous because only relative exists",
			from:   "journal/2026-01-01.md",
			target: "weekly.md",
			exists: map[string]bool{"journal/weekly.md": true},
			want:   "journal/weekly.md",
		},
		{
			name:   "plain relative, default format wins with no evidence",
			from:   "journal/2026-01-01.md",
			target: "weekly.md",
			want:   "journal/weekly.md",
		},
		{
			name:   "plain relative, existence check disambiguates to root",
			from:   "journal/2026-01-01.md",
			target: "weekly.md",
			exists: map[string]bool{"weekly.md": true},
			want:   "weekly.md",
		},
		{
			name:   "plain_canonical format prefers root by default",
			from:   "journal/2026-01-01.md",
			target: "weekly.md",
			format: LinkFormatPlainCanonical,
			want:   "weekly.md",
		},
		{
			name:   "plain_canonical format falls back to relative when only it exists",
			from:   "journal/2026-01-01.md",
			target: "weekly.md",
			format: LinkFormatPlainCanonical,
			exists: map[string]bool{"journal/weekly.md": true},
			want:   "journal/weekly.md",
		},
		{
			name:    "escapes workspace root",
			from:    "journal/2026-01-01.md",
			target:  "../../etc/passwd",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := Resolver{
				Format: tt.format,
				Exists: func(p string) bool { return tt.exists[p] },
			}

			got, err := r.Canonicalize(tt.from, tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Canonicalize_SameResultBothForms(t *testing.T) {
	t.Parallel()

	// When the relative and root interpretations agree (entry at
	// workspace root), there is nothing to disambiguate.
	r := Resolver{Exists: func(string) bool { return false }}

	got, err := r.Canonicalize("index.md", "weekly.md")
	require.NoError(t, err)
	assert.Equal(t, "weekly.md", got)
}

func TestResolver_CanonicalizeAll_SkipsInvalid(t *testing.T) {
	t.Parallel()

	r := Resolver{Exists: func(string) bool { return false }}

	got := r.CanonicalizeAll("journal/a.md", []string{"b.md", "../../escape.md", "c.md"})
	assert.Equal(t, []string{"journal/b.md", "journal/c.md"}, got)
}
