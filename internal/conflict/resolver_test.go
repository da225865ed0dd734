package conflict

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctxsync/ctxsync/internal/deployerr"
	"github.com/ctxsync/ctxsync/internal/platform"
	"github.com/ctxsync/ctxsync/pkg/configtree"
)

func mustTree(t *testing.T, src string) *configtree.Value {
	t.Helper()
	v, err := configtree.Decode([]byte(src), configtree.FormatJSON)
	if err != nil {
		t.Fatalf("decode %q: %v", src, err)
	}
	return v
}

func staticLoader(existing *configtree.Value) Loader {
	return func(platform.Component) (*configtree.Value, bool, error) {
		if existing == nil {
			return nil, false, nil
		}
		return existing, true, nil
	}
}

func TestResolveNewComponentShortCircuits(t *testing.T) {
	r := NewResolver(staticLoader(nil))
	incoming := mustTree(t, `{"theme":"dark"}`)

	res, err := r.Resolve(platform.ComponentSettings, incoming, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.HasConflicts {
		t.Error("new component must not report conflicts")
	}
	if res.Strategy != StrategyNoExisting {
		t.Errorf("Strategy = %q, expected %q", res.Strategy, StrategyNoExisting)
	}
	if !configtree.Equal(res.Resolved, incoming) {
		t.Errorf("resolved tree differs from incoming: %s", res.Resolved.Canonical())
	}
	if res.Resolved == incoming {
		t.Error("resolved tree aliases the incoming tree")
	}
}

func TestResolveDetectsConflictsAndMerges(t *testing.T) {
	existing := mustTree(t, `{"theme":"light","fontSize":12}`)
	incoming := mustTree(t, `{"theme":"dark","tabSize":4}`)

	r := NewResolver(staticLoader(existing))
	res, err := r.Resolve(platform.ComponentSettings, incoming, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.HasConflicts || len(res.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", res.Conflicts)
	}
	if res.Conflicts[0].Path != "theme" || res.Conflicts[0].Kind != configtree.ValueConflict {
		t.Errorf("unexpected conflict: %+v", res.Conflicts[0])
	}
	if res.Strategy != string(configtree.StrategyMerge) {
		t.Errorf("default strategy = %q, expected merge", res.Strategy)
	}

	want := mustTree(t, `{"theme":"dark","fontSize":12,"tabSize":4}`)
	if !configtree.Equal(res.Resolved, want) {
		t.Errorf("merged tree = %s, expected %s", res.Resolved.Canonical(), want.Canonical())
	}
}

func TestResolveStrategies(t *testing.T) {
	existing := mustTree(t, `{"theme":"light"}`)
	incoming := mustTree(t, `{"theme":"dark"}`)

	cases := []struct {
		strategy        configtree.Strategy
		want            string
		backupRequested bool
	}{
		{configtree.StrategySkip, `{"theme":"light"}`, false},
		{configtree.StrategyOverwrite, `{"theme":"dark"}`, false},
		{configtree.StrategyBackup, `{"theme":"dark"}`, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.strategy), func(t *testing.T) {
			r := NewResolver(staticLoader(existing))
			res, err := r.Resolve(platform.ComponentSettings, incoming, Options{Strategy: tc.strategy})
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got := res.Resolved.Canonical(); got != tc.want {
				t.Errorf("resolved = %s, expected %s", got, tc.want)
			}
			if res.BackupRequested != tc.backupRequested {
				t.Errorf("BackupRequested = %v, expected %v", res.BackupRequested, tc.backupRequested)
			}
		})
	}
}

func TestResolveRejectsUnknownStrategy(t *testing.T) {
	r := NewResolver(staticLoader(nil))
	_, err := r.Resolve(platform.ComponentSettings, mustTree(t, `{}`), Options{Strategy: "theirs"})
	if !errors.Is(err, deployerr.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestFileLoader(t *testing.T) {
	ws := t.TempDir()
	plat, err := platform.Get("cursor")
	if err != nil {
		t.Fatal(err)
	}
	load := FileLoader(plat, ws)

	if _, found, err := load(platform.ComponentSettings); err != nil || found {
		t.Fatalf("expected not-found for missing file, got found=%v err=%v", found, err)
	}

	path := filepath.Join(ws, ".cursor", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tree, found, err := load(platform.ComponentSettings)
	if err != nil || !found {
		t.Fatalf("expected to load existing file, got found=%v err=%v", found, err)
	}
	theme, ok := tree.GetPath("theme")
	if !ok || theme.StringVal() != "dark" {
		t.Errorf("loaded tree missing theme: %s", tree.Canonical())
	}
}
