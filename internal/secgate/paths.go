// Package secgate is the gatekeeper that runs before any file is written:
// path validation and containment, secret detection and sanitization, and
// malicious-command scanning over configuration content.
package secgate

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/pkg/safeio"
)

// denyPrefixes are sensitive system locations no deployment may touch.
var denyPrefixes = []string{
	"/etc",
	"/sys",
	"/proc",
	"/boot",
	"/dev",
	"/usr/lib",
	"/private/etc",
}

// denySegments are directory names that mark credential stores anywhere in a
// path.
var denySegments = []string{
	".ssh",
	".gnupg",
	".aws",
	".kube",
}

// Gate validates paths and content before the engine mutates anything.
type Gate struct {
	extraDeny []string
}

// NewGate creates a security gate. extraDeny lists additional denied path
// prefixes from configuration.
func NewGate(extraDeny []string) *Gate {
	return &Gate{extraDeny: extraDeny}
}

// ValidatePath rejects null bytes, any directory-traversal sequence
// (including URL-encoded forms), and paths under denied system locations.
func (g *Gate) ValidatePath(path string) error {
	if path == "" {
		return deployerr.Security(path, "empty path")
	}
	if strings.ContainsRune(path, 0) {
		return deployerr.Security(path, "path contains a null byte")
	}

	if containsTraversal(path) {
		return deployerr.Security(path, "path traversal sequence detected")
	}

	clean := filepath.Clean(path)
	for _, prefix := range append(append([]string{}, denyPrefixes...), g.extraDeny...) {
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return deployerr.Security(path, "path is under a denied system location")
		}
	}
	for _, seg := range strings.Split(filepath.ToSlash(clean), "/") {
		for _, deny := range denySegments {
			if seg == deny {
				return deployerr.Security(path, "path crosses a credential directory")
			}
		}
	}
	return nil
}

// containsTraversal checks for ".." in the raw path and in up to two rounds
// of URL decoding, so %2e%2e and double-encoded variants are caught before
// any canonicalization could mask them.
func containsTraversal(path string) bool {
	candidates := []string{path}
	decoded := path
	for i := 0; i < 2; i++ {
		next, err := url.PathUnescape(decoded)
		if err != nil || next == decoded {
			break
		}
		decoded = next
		candidates = append(candidates, next)
	}
	for _, c := range candidates {
		normalized := strings.ReplaceAll(c, "\\", "/")
		for _, seg := range strings.Split(normalized, "/") {
			if seg == ".." {
				return true
			}
		}
	}
	return false
}

// WithinAllowedRoots requires the candidate path to equal or descend from
// one of the allowed roots once both are resolved to canonical absolute
// form. Traversal sequences are rejected outright first.
func (g *Gate) WithinAllowedRoots(path string, allowedRoots []string) error {
	if err := g.ValidatePath(path); err != nil {
		return err
	}
	if len(allowedRoots) == 0 {
		return deployerr.Security(path, "no allowed roots configured")
	}
	for _, root := range allowedRoots {
		if _, err := safeio.ContainedPath(root, path); err == nil {
			return nil
		}
	}
	return deployerr.Security(path, "path is outside every allowed root")
}
