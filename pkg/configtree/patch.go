package configtree

// ApplyPatch applies an ordered list of diff entries to target and returns
// the patched tree. Additions and modifications set the value at the dotted
// path, creating intermediate objects as needed; deletions remove the key.
// The input tree is never mutated.
func ApplyPatch(target *Value, entries []DiffEntry) *Value {
	out := target.Clone()
	if out.Kind() != KindObject {
		out = Object()
	}
	for _, entry := range entries {
		switch entry.Kind {
		case DiffAddition, DiffModification:
			out.SetPath(entry.Path, entry.NewValue.Clone())
		case DiffDeletion:
			out.DeletePath(entry.Path)
		}
	}
	return out
}
