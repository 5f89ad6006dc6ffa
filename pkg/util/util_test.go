package util

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestWithUserWritePermission(t *testing.T) {
	cases := []struct {
		in   os.FileMode
		want os.FileMode
	}{
		{0000, 0200},
		{0444, 0644},
		{0755, 0755},
		{0644, 0644},
	}
	for _, c := range cases {
		if got := WithUserWritePermission(c.in); got != c.want {
			t.Errorf("WithUserWritePermission(%o) = %o, want %o", c.in, got, c.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	got, err := ExpandPath("~/mirror")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if want := filepath.Join(home, "mirror"); got != want {
		t.Errorf("ExpandPath(~/mirror) = %s, want %s", got, want)
	}

	// Paths without a tilde pass through untouched.
	got, err = ExpandPath("/var/data")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != "/var/data" {
		t.Errorf("ExpandPath(/var/data) = %s, want /var/data", got)
	}
}

func TestIsDescendant(t *testing.T) {
	cases := []struct {
		parent, child string
		want          bool
	}{
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a", false},
		{"/a/b", "/x/y", false},
	}
	for _, c := range cases {
		if got := IsDescendant(c.parent, c.child); got != c.want {
			t.Errorf("IsDescendant(%s, %s) = %v, want %v", c.parent, c.child, got, c.want)
		}
	}
}

func TestByteCountIEC(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1.0 MiB"},
	}
	for _, c := range cases {
		if got := ByteCountIEC(c.in); got != c.want {
			t.Errorf("ByteCountIEC(%d) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestMergeAndDeduplicate(t *testing.T) {
	got := MergeAndDeduplicate([]string{"a", "b"}, []string{"b", "c"}, nil)
	sort.Strings(got)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("MergeAndDeduplicate returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MergeAndDeduplicate returned %v, want %v", got, want)
		}
	}
}
