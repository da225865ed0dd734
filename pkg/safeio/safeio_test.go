package safeio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCleanUserPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		hasError bool
	}{
		{name: "simple path", input: "file.txt", expected: "file.txt"},
		{name: "relative path", input: "./subdir/file.txt", expected: "subdir/file.txt"},
		{name: "absolute path", input: "/tmp/file.txt", expected: "/tmp/file.txt"},
		{name: "traversal", input: "../../../etc/passwd", hasError: true},
		{name: "traversal in middle", input: "valid/../../../etc/passwd", hasError: true},
		{name: "dots without traversal", input: "file.with.dots.txt", expected: "file.with.dots.txt"},
		{name: "parent directory", input: "..", hasError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := CleanUserPath(tt.input)
			if tt.hasError {
				if err == nil {
					t.Errorf("CleanUserPath(%q) expected error but got none", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("CleanUserPath(%q) unexpected error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("CleanUserPath(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestContainedPath(t *testing.T) {
	base := t.TempDir()

	got, err := ContainedPath(base, filepath.Join(base, "sub", "file.json"))
	if err != nil {
		t.Fatalf("ContainedPath inside base failed: %v", err)
	}
	if got != filepath.Join(base, "sub", "file.json") {
		t.Errorf("unexpected resolved path %q", got)
	}

	if _, err := ContainedPath(base, filepath.Join(base, "..", "escape.json")); err == nil {
		t.Error("ContainedPath accepted an escaping path")
	}
	if _, err := ContainedPath(base, "/etc/passwd"); err == nil {
		t.Error("ContainedPath accepted an absolute path outside base")
	}

	// The base itself is contained
	if _, err := ContainedPath(base, base); err != nil {
		t.Errorf("ContainedPath rejected the base directory itself: %v", err)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := AtomicWriteFile(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("content mismatch: %q", data)
	}
	st, _ := os.Stat(path)
	if st.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, expected 0600", st.Mode().Perm())
	}

	// No temp files left behind
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the target file in dir, found %d entries", len(entries))
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")
	if err := os.WriteFile(src, []byte("payload"), 0o640); err != nil {
		t.Fatal(err)
	}

	n, err := CopyFile(src, dst)
	if err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	if n != int64(len("payload")) {
		t.Errorf("copied %d bytes, expected %d", n, len("payload"))
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("content mismatch: %q", data)
	}
	st, _ := os.Stat(dst)
	if st.Mode().Perm() != 0o640 {
		t.Errorf("mode = %v, expected 0640", st.Mode().Perm())
	}
}
