package process

import (
	"slices"
	"testing"
)

func TestBuildEnv(t *testing.T) {
	tests := []struct {
		name      string
		base      []string
		overrides map[string]string
		want      []string
	}{
		{
			name: "no overrides",
			base: []string{"HOME=/home/u", "PATH=/bin"},
			want: []string{"HOME=/home/u", "PATH=/bin"},
		},
		{
			name:      "adds missing keys in sorted order",
			base:      []string{"HOME=/home/u"},
			overrides: map[string]string{"SPICE_XPI_SOCKET": "/tmp/s", "SPICE_PROXY": "http://p:3128"},
			want:      []string{"HOME=/home/u", "SPICE_PROXY=http://p:3128", "SPICE_XPI_SOCKET=/tmp/s"},
		},
		{
			name:      "override replaces inherited value",
			base:      []string{"SPICE_XPI_SOCKET=/old", "HOME=/home/u"},
			overrides: map[string]string{"SPICE_XPI_SOCKET": "/new"},
			want:      []string{"HOME=/home/u", "SPICE_XPI_SOCKET=/new"},
		},
		{
			name: "duplicate inherited keys keep the last",
			base: []string{"A=1", "B=2", "A=3"},
			want: []string{"B=2", "A=3"},
		},
		{
			name:      "empty override value is kept",
			base:      []string{"SPICE_PROXY=http://old"},
			overrides: map[string]string{"SPICE_PROXY": ""},
			want:      []string{"SPICE_PROXY="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildEnv(tt.base, tt.overrides)
			if !slices.Equal(got, tt.want) {
				t.Errorf("BuildEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildEnv_DoesNotMutateBase(t *testing.T) {
	base := []string{"A=1", "A=2"}
	_ = BuildEnv(base, map[string]string{"A": "3"})
	if !slices.Equal(base, []string{"A=1", "A=2"}) {
		t.Errorf("base mutated: %q", base)
	}
}

func TestBuildEnv_CaseFolding(t *testing.T) {
	old := foldKeys
	t.Cleanup(func() { foldKeys = old })

	foldKeys = true
	got := BuildEnv([]string{"Path=C:\\old"}, map[string]string{"PATH": "C:\\new"})
	if !slices.Equal(got, []string{"PATH=C:\\new"}) {
		t.Errorf("folded BuildEnv() = %q", got)
	}

	foldKeys = false
	got = BuildEnv([]string{"Path=/old"}, map[string]string{"PATH": "/new"})
	if !slices.Equal(got, []string{"Path=/old", "PATH=/new"}) {
		t.Errorf("case-sensitive BuildEnv() = %q", got)
	}
}
