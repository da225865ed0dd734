package secgate

import "regexp"

// CommandFinding is one dangerous-command match. Every finding is blocking;
// there is no recoverable severity for command injection.
type CommandFinding struct {
	Pattern string `json:"pattern"`
	Match   string `json:"match"`
}

// CommandScanResult reports the outcome of a malicious-command scan.
type CommandScanResult struct {
	Passed   bool             `json:"passed"`
	Blockers []CommandFinding `json:"blockers,omitempty"`
}

type commandPattern struct {
	name string
	re   *regexp.Regexp
}

var dangerousCommands = []commandPattern{
	{"destructive_delete", regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]*\s+)*-[a-z]*[rf][a-z]*[rf][a-z]*\b`)},
	{"root_delete", regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]+\s+)*/(?:\s|$)`)},
	{"privilege_escalation", regexp.MustCompile(`(?i)\bsudo\s+\S`)},
	{"remote_code_fetch", regexp.MustCompile(`(?i)\b(?:curl|wget)\b[^|;&]*\|\s*(?:ba|z|da)?sh\b`)},
	{"device_overwrite", regexp.MustCompile(`(?i)\bdd\s+[^;|&]*of=/dev/`)},
	{"filesystem_format", regexp.MustCompile(`(?i)\bmkfs(?:\.[a-z0-9]+)?\s`)},
	{"fork_bomb", regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`)},
	{"world_writable_root", regexp.MustCompile(`(?i)\bchmod\s+(?:-[a-z]+\s+)*777\s+/`)},
	{"encoded_eval", regexp.MustCompile(`(?i)\beval\b[^;&]*base64`)},
}

// ScanForMaliciousCommands tests free-text content (shell snippets embedded
// in configuration, task definitions, hook scripts) against the fixed
// dangerous-command set. Any match fails the scan.
func (g *Gate) ScanForMaliciousCommands(content string) CommandScanResult {
	result := CommandScanResult{Passed: true}
	for _, p := range dangerousCommands {
		if match := p.re.FindString(content); match != "" {
			result.Passed = false
			result.Blockers = append(result.Blockers, CommandFinding{Pattern: p.name, Match: match})
		}
	}
	return result
}
