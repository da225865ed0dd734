package configtree

import (
	"testing"
)

func TestApplyPatchBasic(t *testing.T) {
	target := mustDecode(t, `{"keep":1,"change":"old","drop":true}`, FormatJSON)
	patches := []DiffEntry{
		{Path: "change", Kind: DiffModification, NewValue: String("new")},
		{Path: "added.deep", Kind: DiffAddition, NewValue: Number(7)},
		{Path: "drop", Kind: DiffDeletion},
	}

	result := ApplyPatch(target, patches)
	expected := mustDecode(t, `{"keep":1,"change":"new","added":{"deep":7}}`, FormatJSON)
	if !Equal(result, expected) {
		t.Errorf("got %s, expected %s", result.Canonical(), expected.Canonical())
	}

	// Input untouched
	if v, _ := target.GetPath("change"); v.StringVal() != "old" {
		t.Error("ApplyPatch mutated its input")
	}
	if _, ok := target.GetPath("drop"); !ok {
		t.Error("ApplyPatch mutated its input (deletion)")
	}
}

// Applying a diff's additions and modifications onto the target and then
// removing its deletions reproduces the source tree.
func TestDiffPatchInverse(t *testing.T) {
	cases := []struct{ source, target string }{
		{`{"a":1,"b":{"c":2}}`, `{"a":9,"d":true}`},
		{`{"list":[1,2,3],"s":"x"}`, `{"list":[4],"gone":{"nested":1}}`},
		{`{}`, `{"everything":"goes"}`},
		{`{"only":"source"}`, `{}`},
	}

	for _, tc := range cases {
		source := mustDecode(t, tc.source, FormatJSON)
		target := mustDecode(t, tc.target, FormatJSON)

		diff := Diff(source, target)
		patches := append([]DiffEntry{}, diff.Additions...)
		patches = append(patches, diff.Modifications...)
		patches = append(patches, diff.Deletions...)

		result := ApplyPatch(target, patches)
		if !Equal(result, source) {
			t.Errorf("patch did not reproduce source:\nsource: %s\nresult: %s", source.Canonical(), result.Canonical())
		}
	}
}
