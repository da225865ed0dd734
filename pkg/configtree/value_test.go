package configtree

import (
	"testing"
)

func mustDecode(t *testing.T, data string, format Format) *Value {
	t.Helper()
	v, err := Decode([]byte(data), format)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return v
}

func TestDecodeFormats(t *testing.T) {
	jsonTree := mustDecode(t, `{"editor":{"fontSize":14,"minimap":true},"tags":["a","b"]}`, FormatJSON)
	yamlTree := mustDecode(t, "editor:\n  fontSize: 14\n  minimap: true\ntags:\n  - a\n  - b\n", FormatYAML)
	tomlTree := mustDecode(t, "tags = [\"a\", \"b\"]\n[editor]\nfontSize = 14\nminimap = true\n", FormatTOML)

	if !Equal(jsonTree, yamlTree) {
		t.Errorf("JSON and YAML trees differ:\n%s\n%s", jsonTree.Canonical(), yamlTree.Canonical())
	}
	if !Equal(jsonTree, tomlTree) {
		t.Errorf("JSON and TOML trees differ:\n%s\n%s", jsonTree.Canonical(), tomlTree.Canonical())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := mustDecode(t, `{"a":{"b":1},"list":[1,2]}`, FormatJSON)
	clone := orig.Clone()

	clone.SetPath("a.b", Number(99))
	if v, _ := orig.GetPath("a.b"); v.NumberVal() != 1 {
		t.Error("mutating the clone changed the original")
	}
	if !Equal(orig, orig.Clone()) {
		t.Error("clone is not structurally equal to the original")
	}
}

func TestGetSetDeletePath(t *testing.T) {
	tree := Object()
	tree.SetPath("content.rules.style", String("strict"))

	got, ok := tree.GetPath("content.rules.style")
	if !ok || got.StringVal() != "strict" {
		t.Fatalf("GetPath after SetPath = %v, %v", got, ok)
	}

	// Intermediate objects were created
	if mid, ok := tree.GetPath("content.rules"); !ok || mid.Kind() != KindObject {
		t.Error("SetPath did not create intermediate objects")
	}

	tree.DeletePath("content.rules.style")
	if _, ok := tree.GetPath("content.rules.style"); ok {
		t.Error("DeletePath left the key in place")
	}

	// Deleting a missing path is a no-op
	tree.DeletePath("content.nope.deep")
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a := mustDecode(t, `{"x":1,"y":2}`, FormatJSON)
	b := mustDecode(t, `{"y":2,"x":1}`, FormatJSON)
	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical forms differ: %s vs %s", a.Canonical(), b.Canonical())
	}
}

func TestEqualMixedKinds(t *testing.T) {
	if Equal(String("1"), Number(1)) {
		t.Error("string and number compared equal")
	}
	if !Equal(Null(), Null()) {
		t.Error("null != null")
	}
	if Equal(Bool(true), Bool(false)) {
		t.Error("true == false")
	}
}

func TestFromGoRejectsUnsupported(t *testing.T) {
	if _, err := FromGo(struct{}{}); err == nil {
		t.Error("FromGo accepted an unsupported type")
	}
}

func TestRoundTripJSON(t *testing.T) {
	tree := mustDecode(t, `{"a":[{"id":"x","v":1}],"b":null,"c":1.5}`, FormatJSON)
	data, err := EncodeJSON(tree)
	if err != nil {
		t.Fatalf("EncodeJSON failed: %v", err)
	}
	again := mustDecode(t, string(data), FormatJSON)
	if !Equal(tree, again) {
		t.Errorf("JSON round trip changed the tree: %s vs %s", tree.Canonical(), again.Canonical())
	}
}
