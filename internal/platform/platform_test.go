package platform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetKnownPlatforms(t *testing.T) {
	for _, name := range []string{"cursor", "vscode", "windsurf", "zed"} {
		p, err := Get(name)
		if err != nil {
			t.Errorf("Get(%q) failed: %v", name, err)
			continue
		}
		for _, c := range AllComponents() {
			if _, ok := p.FileSets[c]; !ok {
				t.Errorf("platform %s missing file set for %s", name, c)
			}
		}
	}
	if _, err := Get("emacs"); err == nil {
		t.Error("Get accepted an unknown platform")
	}
}

func TestComponentFilesGlobbing(t *testing.T) {
	root := t.TempDir()
	mustWrite := func(rel, content string) {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite(".cursorrules", "rules")
	mustWrite(".cursor/rules/go.mdc", "go rules")
	mustWrite(".cursor/rules/nested/web.mdc", "web rules")
	mustWrite(".cursor/rules/ignore.txt", "not matched")
	mustWrite(".cursor/settings.json", "{}")

	p, _ := Get("cursor")

	rules, err := p.ComponentFiles(root, ComponentAIRules)
	if err != nil {
		t.Fatalf("ComponentFiles failed: %v", err)
	}
	if len(rules) != 3 {
		t.Errorf("expected 3 ai-rules files, got %d: %v", len(rules), rules)
	}

	settings, err := p.ComponentFiles(root, ComponentSettings)
	if err != nil {
		t.Fatal(err)
	}
	if len(settings) != 1 {
		t.Errorf("expected 1 settings file, got %v", settings)
	}

	// Missing files resolve to an empty set, not an error
	missing, err := p.ComponentFiles(root, ComponentDebugConfig)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("expected no debug-config files, got %v", missing)
	}
}

func TestComponentPrimaryFileResolvesWorkspaceGlob(t *testing.T) {
	root := t.TempDir()
	p, _ := Get("vscode")

	// Nothing matches yet: derive a concrete default, never a literal glob.
	path, err := p.ComponentPrimaryFile(root, ComponentWorkspace)
	if err != nil {
		t.Fatalf("ComponentPrimaryFile failed: %v", err)
	}
	if strings.ContainsAny(path, "*?[") {
		t.Fatalf("primary file contains glob metacharacters: %q", path)
	}
	want := filepath.Join(root, filepath.Base(root)+".code-workspace")
	if path != want {
		t.Errorf("default workspace file = %q, expected %q", path, want)
	}

	// An existing workspace file wins over the derived default.
	existing := filepath.Join(root, "proj.code-workspace")
	if err := os.WriteFile(existing, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	path, err = p.ComponentPrimaryFile(root, ComponentWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if path != existing {
		t.Errorf("primary file = %q, expected existing %q", path, existing)
	}

	// Non-glob patterns are returned verbatim, existing or not.
	settings, err := p.ComponentPrimaryFile(root, ComponentSettings)
	if err != nil {
		t.Fatal(err)
	}
	if settings != filepath.Join(root, ".vscode", "settings.json") {
		t.Errorf("settings primary file = %q", settings)
	}
}

func TestOrderedComponents(t *testing.T) {
	if Ordered(ComponentSettings) {
		t.Error("settings must be parallel-safe")
	}
	for _, c := range []Component{ComponentAIConfig, ComponentAIRules, ComponentWorkspace} {
		if !Ordered(c) {
			t.Errorf("%s must be ordered", c)
		}
	}
}

func TestRollbackSet(t *testing.T) {
	deployed := []Component{ComponentSettings, ComponentDebugConfig, ComponentWorkspace}

	set := RollbackSet(ComponentDebugConfig, deployed)
	want := map[Component]bool{ComponentDebugConfig: true, ComponentWorkspace: true}
	if len(set) != len(want) {
		t.Fatalf("RollbackSet = %v", set)
	}
	for _, c := range set {
		if !want[c] {
			t.Errorf("unexpected component %s in rollback set", c)
		}
	}

	// Dependents not actually deployed are not rolled back
	solo := RollbackSet(ComponentDebugConfig, []Component{ComponentDebugConfig})
	if len(solo) != 1 || solo[0] != ComponentDebugConfig {
		t.Errorf("RollbackSet without deployed dependents = %v", solo)
	}
}

func TestDirDetector(t *testing.T) {
	root := t.TempDir()
	if _, ok := (DirDetector{}).Detect(root); ok {
		t.Error("detector matched an empty workspace")
	}

	if err := os.MkdirAll(filepath.Join(root, ".windsurf"), 0o750); err != nil {
		t.Fatal(err)
	}
	p, ok := (DirDetector{}).Detect(root)
	if !ok || p.Name != "windsurf" {
		t.Errorf("Detect = %v, %v", p, ok)
	}
}

func TestLockScope(t *testing.T) {
	p, _ := Get("cursor")
	scope := p.LockScope("/ws/project/")
	if scope != "/ws/project#cursor" {
		t.Errorf("LockScope = %q", scope)
	}
}
