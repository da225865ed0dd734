package safeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CleanUserPath cleans a user-provided path and rejects traversal attempts.
// Returns paths with forward slashes for cross-platform consistency.
func CleanUserPath(p string) (string, error) {
	c := filepath.Clean(p)
	if strings.Contains(c, "..") {
		return "", errors.New("path traversal detected")
	}
	return filepath.ToSlash(c), nil
}

// ContainedPath resolves candidate against baseDir and returns its absolute
// form only if it stays within baseDir. This is the containment primitive
// behind every engine write: a path that resolves outside its base is never
// touched.
func ContainedPath(baseDir, candidate string) (string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", errors.New("failed to resolve base directory")
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", errors.New("failed to resolve candidate path")
	}

	rel, err := filepath.Rel(baseAbs, candAbs)
	if err != nil {
		return "", errors.New("failed to compute relative path")
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes base directory %s", candidate, baseDir)
	}
	return candAbs, nil
}

// WriteFilePreservePerms writes data to path preserving existing file mode when possible.
// When the file does not exist, it uses a sane default of 0644.
func WriteFilePreservePerms(path string, data []byte) error {
	var mode os.FileMode = 0o644
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode() & 0o777
		if mode == 0 {
			mode = 0o644
		}
	}
	return os.WriteFile(path, data, mode)
}

// AtomicWriteFile writes data to a temp file in the target directory and
// renames it into place, so readers never observe a half-written document.
func AtomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// EnsureDir creates dir (and parents) with 0750 if it does not exist.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}

// CopyFile copies src to dst preserving the source file mode. The
// destination directory must already exist.
func CopyFile(src, dst string) (int64, error) {
	in, err := os.Open(src) // #nosec G304 -- callers validate containment first
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	st, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, st.Mode().Perm()) // #nosec G304
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
