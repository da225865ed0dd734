package configtree

// DiffKind classifies one diff entry.
type DiffKind string

const (
	DiffAddition     DiffKind = "addition"
	DiffModification DiffKind = "modification"
	DiffDeletion     DiffKind = "deletion"
)

// DiffEntry records one structural difference between two trees, addressed
// by dotted path.
type DiffEntry struct {
	Path     string   `json:"path"`
	Kind     DiffKind `json:"kind"`
	OldValue *Value   `json:"-"`
	NewValue *Value   `json:"-"`
}

// DiffResult groups the differences between a source and a target tree.
type DiffResult struct {
	HasChanges    bool        `json:"has_changes"`
	Additions     []DiffEntry `json:"additions"`
	Modifications []DiffEntry `json:"modifications"`
	Deletions     []DiffEntry `json:"deletions"`
}

// Diff structurally compares source (the incoming configuration) against
// target (the existing one). Keys present only in source are additions, keys
// present only in target are deletions, keys in both with unequal values are
// modifications. Nested objects recurse; arrays compare by canonical
// serialization and surface as a single modification. The walk is pure and
// deterministic: identical inputs always produce identical results.
func Diff(source, target *Value) DiffResult {
	var result DiffResult
	diffInto(source, target, "", &result)
	result.HasChanges = len(result.Additions)+len(result.Modifications)+len(result.Deletions) > 0
	return result
}

func diffInto(source, target *Value, prefix string, result *DiffResult) {
	if source.Kind() == KindObject && target.Kind() == KindObject {
		for _, key := range source.Keys() {
			path := joinPath(prefix, key)
			sv, _ := source.Field(key)
			tv, ok := target.Field(key)
			if !ok {
				result.Additions = append(result.Additions, DiffEntry{Path: path, Kind: DiffAddition, NewValue: sv})
				continue
			}
			diffInto(sv, tv, path, result)
		}
		for _, key := range target.Keys() {
			if _, ok := source.Field(key); ok {
				continue
			}
			tv, _ := target.Field(key)
			result.Deletions = append(result.Deletions, DiffEntry{Path: joinPath(prefix, key), Kind: DiffDeletion, OldValue: tv})
		}
		return
	}

	if source.Kind() == KindArray && target.Kind() == KindArray {
		if source.Canonical() != target.Canonical() {
			result.Modifications = append(result.Modifications, DiffEntry{Path: prefix, Kind: DiffModification, OldValue: target, NewValue: source})
		}
		return
	}

	if !Equal(source, target) {
		result.Modifications = append(result.Modifications, DiffEntry{Path: prefix, Kind: DiffModification, OldValue: target, NewValue: source})
	}
}

// ConflictKind classifies a conflict between two trees.
type ConflictKind string

const (
	ValueConflict ConflictKind = "value_conflict"
	TypeConflict  ConflictKind = "type_conflict"
)

// Conflict records a key present in both trees with differing content.
type Conflict struct {
	Path        string       `json:"path"`
	Kind        ConflictKind `json:"kind"`
	SourceValue *Value       `json:"-"`
	TargetValue *Value       `json:"-"`
}

// Conflicts reports keys common to both trees whose values differ. A runtime
// type mismatch is a type_conflict; an unequal scalar is a value_conflict.
// Arrays never surface as conflicts: the merge strategies reconcile them.
func Conflicts(source, target *Value) []Conflict {
	var out []Conflict
	conflictsInto(source, target, "", &out)
	return out
}

func conflictsInto(source, target *Value, prefix string, out *[]Conflict) {
	if source.Kind() == KindObject && target.Kind() == KindObject {
		for _, key := range source.Keys() {
			sv, _ := source.Field(key)
			tv, ok := target.Field(key)
			if !ok {
				continue
			}
			conflictsInto(sv, tv, joinPath(prefix, key), out)
		}
		return
	}

	if source.Kind() != target.Kind() {
		*out = append(*out, Conflict{Path: prefix, Kind: TypeConflict, SourceValue: source, TargetValue: target})
		return
	}
	if source.Kind() == KindArray {
		return
	}
	if !Equal(source, target) {
		*out = append(*out, Conflict{Path: prefix, Kind: ValueConflict, SourceValue: source, TargetValue: target})
	}
}
