package secgate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ctxsync/ctxsync/pkg/configtree"
)

// DetectedSecret records one secret-bearing string leaf of a configuration
// tree. Value holds the matched content only in memory; it is never
// persisted.
type DetectedSecret struct {
	Path       string
	Value      string
	Type       string
	Confidence float64
}

// secretPattern is one entry of the prioritized detection set. Patterns are
// tested in order; the first match on a value wins.
type secretPattern struct {
	name       string
	re         *regexp.Regexp
	confidence float64
}

var secretPatterns = []secretPattern{
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`), 0.99},
	{"aws_access_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0.95},
	{"github_token", regexp.MustCompile(`\b(?:ghp|gho|ghs|ghr)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{22,}\b`), 0.95},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`), 0.9},
	{"google_api_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`), 0.9},
	{"connection_string", regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^/\s:@]+:[^@\s]+@`), 0.9},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\.[A-Za-z0-9_\-]{8,}\b`), 0.85},
	{"bearer_token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.=]{20,}`), 0.8},
	{"password_assignment", regexp.MustCompile(`(?i)\bpassword\s*[=:]\s*\S{6,}`), 0.6},
	{"api_key_assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret)\s*[=:]\s*['"]?[A-Za-z0-9_\-]{16,}`), 0.7},
}

// sensitiveKeyParts flag a key name as secret-like regardless of its value.
var sensitiveKeyParts = []string{
	"password", "passwd", "secret", "token", "apikey", "api_key",
	"private_key", "credential", "auth",
}

func sensitiveKeyName(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// classify tests a string leaf under the given key. Pattern matches take
// priority over key-name matches.
func classify(key, value string) (string, float64, bool) {
	for _, p := range secretPatterns {
		if p.re.MatchString(value) {
			return p.name, p.confidence, true
		}
	}
	if sensitiveKeyName(key) && value != "" {
		return "sensitive_key_name", 0.5, true
	}
	return "", 0, false
}

// DetectSecrets recurses the full tree and reports every string leaf that
// matches the pattern set or sits under a secret-like key name. Results are
// sorted by path for deterministic reports.
func (g *Gate) DetectSecrets(tree *configtree.Value) []DetectedSecret {
	var found []DetectedSecret
	walkStrings(tree, "", "", func(path, key, value string) string {
		if typ, conf, ok := classify(key, value); ok {
			found = append(found, DetectedSecret{Path: path, Value: value, Type: typ, Confidence: conf})
		}
		return value
	})
	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found
}

// MappingEntry links a placeholder back to the secret it replaced.
type MappingEntry struct {
	Path        string `json:"path"`
	Placeholder string `json:"placeholder"`
	SecretID    string `json:"secret_id"`
}

// SecretMapping is the in-memory record needed to restore sanitized values.
// Entries are safe to persist; the original values live only in the private
// map and never leave the process.
type SecretMapping struct {
	Entries []MappingEntry `json:"entries"`

	values map[string]string
}

// Sanitize deep-clones the tree and replaces every detected secret with an
// opaque placeholder embedding its path. The returned mapping restores the
// original values.
func (g *Gate) Sanitize(tree *configtree.Value) (*configtree.Value, *SecretMapping) {
	mapping := &SecretMapping{values: make(map[string]string)}
	clone := tree.Clone()
	walkStrings(clone, "", "", func(path, key, value string) string {
		if _, _, ok := classify(key, value); !ok {
			return value
		}
		id := randomID8()
		placeholder := fmt.Sprintf("{{CTXSYNC_SECRET:%s:%s}}", path, id)
		mapping.Entries = append(mapping.Entries, MappingEntry{Path: path, Placeholder: placeholder, SecretID: id})
		mapping.values[id] = value
		return placeholder
	})
	return clone, mapping
}

// Restore replaces every placeholder recorded in the mapping with its
// original value, returning a new tree.
func (m *SecretMapping) Restore(tree *configtree.Value) *configtree.Value {
	byPlaceholder := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		if original, ok := m.values[e.SecretID]; ok {
			byPlaceholder[e.Placeholder] = original
		}
	}
	clone := tree.Clone()
	walkStrings(clone, "", "", func(path, key, value string) string {
		if original, ok := byPlaceholder[value]; ok {
			return original
		}
		return value
	})
	return clone
}

// walkStrings visits every string leaf in place, replacing it with the
// visitor's return value. Object keys are visited in sorted order; array
// elements extend the dotted path with their index.
func walkStrings(v *configtree.Value, path, key string, visit func(path, key, value string) string) {
	switch v.Kind() {
	case configtree.KindObject:
		for _, k := range v.Keys() {
			child, _ := v.Field(k)
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if child.Kind() == configtree.KindString {
				v.SetField(k, configtree.String(visit(childPath, k, child.StringVal())))
			} else {
				walkStrings(child, childPath, k, visit)
			}
		}
	case configtree.KindArray:
		for i, child := range v.Items() {
			childPath := path + "." + strconv.Itoa(i)
			if path == "" {
				childPath = strconv.Itoa(i)
			}
			if child.Kind() == configtree.KindString {
				v.SetItem(i, configtree.String(visit(childPath, key, child.StringVal())))
			} else {
				walkStrings(child, childPath, key, visit)
			}
		}
	}
}

func randomID8() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable for token generation
		panic(fmt.Sprintf("secgate: random source unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
