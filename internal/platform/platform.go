// Package platform defines the IDE platforms ctxsync can deploy to and the
// on-disk file sets owned by each deployable component.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Component names one independently deployable unit of configuration.
type Component string

const (
	ComponentSettings    Component = "settings"
	ComponentKeybindings Component = "keybindings"
	ComponentAIConfig    Component = "ai-config"
	ComponentAIRules     Component = "ai-rules"
	ComponentMCPConfig   Component = "mcp-config"
	ComponentDebugConfig Component = "debug-config"
	ComponentWorkspace   Component = "workspace"
)

// AllComponents lists every known component in deployment order.
func AllComponents() []Component {
	return []Component{
		ComponentSettings,
		ComponentKeybindings,
		ComponentMCPConfig,
		ComponentDebugConfig,
		ComponentAIConfig,
		ComponentAIRules,
		ComponentWorkspace,
	}
}

// Known reports whether c names a known component.
func Known(c Component) bool {
	for _, known := range AllComponents() {
		if c == known {
			return true
		}
	}
	return false
}

// Ordered reports whether c must run in the strictly sequential tier.
// AI configuration and workspace files layer on top of the independently
// writable components and run only after the parallel tier completes.
func Ordered(c Component) bool {
	switch c {
	case ComponentAIConfig, ComponentAIRules, ComponentWorkspace:
		return true
	}
	return false
}

// dependents maps a component to the components layered on top of it, which
// must be rolled back together with it.
var dependents = map[Component][]Component{
	ComponentDebugConfig: {ComponentWorkspace},
	ComponentAIConfig:    {ComponentAIRules},
	ComponentSettings:    {ComponentKeybindings},
}

// RollbackSet returns failed plus every component that must be rolled back
// with it, restricted to the components actually deployed. Order follows
// AllComponents for determinism.
func RollbackSet(failed Component, deployed []Component) []Component {
	include := map[Component]bool{failed: true}
	for _, dep := range dependents[failed] {
		include[dep] = true
	}

	deployedSet := map[Component]bool{}
	for _, c := range deployed {
		deployedSet[c] = true
	}

	var out []Component
	for _, c := range AllComponents() {
		if include[c] && (deployedSet[c] || c == failed) {
			out = append(out, c)
		}
	}
	return out
}

// Platform describes one target IDE platform.
type Platform struct {
	Name      string
	ConfigDir string // directory under the workspace root owned by the platform
	FileSets  map[Component][]string
}

var registry = map[string]*Platform{
	"cursor": {
		Name:      "cursor",
		ConfigDir: ".cursor",
		FileSets: map[Component][]string{
			ComponentSettings:    {".cursor/settings.json"},
			ComponentKeybindings: {".cursor/keybindings.json"},
			ComponentAIConfig:    {".cursor/ai.json"},
			ComponentAIRules:     {".cursorrules", ".cursor/rules/**/*.mdc"},
			ComponentMCPConfig:   {".cursor/mcp.json"},
			ComponentDebugConfig: {".cursor/launch.json"},
			ComponentWorkspace:   {".cursor/workspace.json"},
		},
	},
	"vscode": {
		Name:      "vscode",
		ConfigDir: ".vscode",
		FileSets: map[Component][]string{
			ComponentSettings:    {".vscode/settings.json"},
			ComponentKeybindings: {".vscode/keybindings.json"},
			ComponentAIConfig:    {".vscode/ai-preferences.json"},
			ComponentAIRules:     {".github/copilot-instructions.md"},
			ComponentMCPConfig:   {".vscode/mcp.json"},
			ComponentDebugConfig: {".vscode/launch.json"},
			ComponentWorkspace:   {"*.code-workspace"},
		},
	},
	"windsurf": {
		Name:      "windsurf",
		ConfigDir: ".windsurf",
		FileSets: map[Component][]string{
			ComponentSettings:    {".windsurf/settings.json"},
			ComponentKeybindings: {".windsurf/keybindings.json"},
			ComponentAIConfig:    {".windsurf/cascade.json"},
			ComponentAIRules:     {".windsurfrules", ".windsurf/rules/**/*.md"},
			ComponentMCPConfig:   {".windsurf/mcp.json"},
			ComponentDebugConfig: {".windsurf/launch.json"},
			ComponentWorkspace:   {".windsurf/workspace.json"},
		},
	},
	"zed": {
		Name:      "zed",
		ConfigDir: ".zed",
		FileSets: map[Component][]string{
			ComponentSettings:    {".zed/settings.json"},
			ComponentKeybindings: {".zed/keymap.json"},
			ComponentAIConfig:    {".zed/assistant.json"},
			ComponentAIRules:     {".rules"},
			ComponentMCPConfig:   {".zed/context_servers.json"},
			ComponentDebugConfig: {".zed/debug.json"},
			ComponentWorkspace:   {".zed/workspace.json"},
		},
	},
}

// Get returns the named platform.
func Get(name string) (*Platform, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names returns the registered platform names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComponentFiles resolves the on-disk files a component owns within the
// workspace. Only files that currently exist are returned; the list is
// sorted for deterministic backup manifests.
func (p *Platform) ComponentFiles(workspaceRoot string, c Component) ([]string, error) {
	patterns, ok := p.FileSets[c]
	if !ok {
		return nil, fmt.Errorf("platform %s has no file set for component %s", p.Name, c)
	}

	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(workspaceRoot, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if st, err := os.Stat(m); err == nil && st.Mode().IsRegular() {
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// ComponentPrimaryFile returns the path the component's main document lives
// at, whether or not it exists yet. The first pattern of the file set is the
// primary one. A glob pattern (vscode's *.code-workspace) resolves to its
// first existing match, or to a default name derived from the workspace
// directory when nothing matches yet.
func (p *Platform) ComponentPrimaryFile(workspaceRoot string, c Component) (string, error) {
	patterns, ok := p.FileSets[c]
	if !ok || len(patterns) == 0 {
		return "", fmt.Errorf("platform %s has no file set for component %s", p.Name, c)
	}
	pattern := patterns[0]
	if !strings.ContainsAny(pattern, "*?[") {
		return filepath.Join(workspaceRoot, pattern), nil
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(workspaceRoot, pattern))
	if err == nil {
		sort.Strings(matches)
		for _, m := range matches {
			if st, serr := os.Stat(m); serr == nil && st.Mode().IsRegular() {
				return m, nil
			}
		}
	}

	base := filepath.Base(filepath.Clean(workspaceRoot))
	if base == "." || base == string(filepath.Separator) {
		base = "workspace"
	}
	return filepath.Join(workspaceRoot, strings.Replace(pattern, "*", base, 1)), nil
}

// LockScope derives the resource scope serializing deployments against one
// workspace and platform.
func (p *Platform) LockScope(workspaceRoot string) string {
	return fmt.Sprintf("%s#%s", filepath.Clean(workspaceRoot), p.Name)
}

// Detector resolves which platform a workspace belongs to.
type Detector interface {
	Detect(workspaceRoot string) (*Platform, bool)
}

// DirDetector detects a platform by probing for its config directory.
type DirDetector struct{}

// Detect returns the first platform (alphabetically) whose config directory
// exists under the workspace root.
func (DirDetector) Detect(workspaceRoot string) (*Platform, bool) {
	for _, name := range Names() {
		p := registry[name]
		if st, err := os.Stat(filepath.Join(workspaceRoot, p.ConfigDir)); err == nil && st.IsDir() {
			return p, true
		}
	}
	return nil, false
}
