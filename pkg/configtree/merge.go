package configtree

// Strategy selects how a source tree is reconciled with an existing target.
type Strategy string

const (
	StrategySkip      Strategy = "skip"
	StrategyOverwrite Strategy = "overwrite"
	StrategyMerge     Strategy = "merge"
	StrategyBackup    Strategy = "backup"
)

// ValidStrategy reports whether s names a known merge strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategySkip, StrategyOverwrite, StrategyMerge, StrategyBackup:
		return true
	}
	return false
}

// MergeResult carries the merged tree plus metadata about how it was
// produced.
type MergeResult struct {
	Tree *Value
	// BackupRequested is set when the backup strategy was used: the caller
	// must snapshot the target before writing the result.
	BackupRequested bool
}

// Merge reconciles source (incoming) with target (existing) under the given
// strategy. The result never aliases either input.
//
//	skip       keep the target unchanged
//	overwrite  take the source unchanged
//	merge      deep-merge (source wins on scalar collision)
//	backup     overwrite, flagging that a backup must be taken first
func Merge(source, target *Value, strategy Strategy) MergeResult {
	switch strategy {
	case StrategySkip:
		return MergeResult{Tree: target.Clone()}
	case StrategyOverwrite:
		return MergeResult{Tree: source.Clone()}
	case StrategyBackup:
		return MergeResult{Tree: source.Clone(), BackupRequested: true}
	default:
		return MergeResult{Tree: deepMerge(source, target)}
	}
}

// deepMerge merges source over target. Objects merge key-wise with recursion
// on object/object collisions; arrays reconcile by id when their elements
// carry one, otherwise by set-union; on any other collision the source value
// wins.
func deepMerge(source, target *Value) *Value {
	if source.Kind() == KindObject && target.Kind() == KindObject {
		out := target.Clone()
		for _, key := range source.Keys() {
			sv, _ := source.Field(key)
			tv, ok := out.Field(key)
			if !ok {
				out.SetField(key, sv.Clone())
				continue
			}
			out.SetField(key, deepMerge(sv, tv))
		}
		return out
	}
	if source.Kind() == KindArray && target.Kind() == KindArray {
		return mergeArrays(source, target)
	}
	return source.Clone()
}

// mergeArrays reconciles two arrays. When every element with an identity is
// an object carrying an "id" field, source entries replace same-id target
// entries and the rest are appended. Otherwise the result is the set-union
// of target then source, deduplicated by canonical form.
func mergeArrays(source, target *Value) *Value {
	if arrayHasIds(source) || arrayHasIds(target) {
		out := Array()
		sourceByID := make(map[string]*Value)
		for _, item := range source.Items() {
			if id, ok := elementID(item); ok {
				sourceByID[id] = item
			}
		}
		consumed := make(map[string]bool)
		for _, item := range target.Items() {
			if id, ok := elementID(item); ok {
				if repl, found := sourceByID[id]; found {
					out.Append(repl.Clone())
					consumed[id] = true
					continue
				}
			}
			out.Append(item.Clone())
		}
		for _, item := range source.Items() {
			if id, ok := elementID(item); ok {
				if consumed[id] {
					continue
				}
				out.Append(item.Clone())
				consumed[id] = true
				continue
			}
			out.Append(item.Clone())
		}
		return out
	}

	out := Array()
	seen := make(map[string]bool)
	for _, item := range target.Items() {
		key := item.Canonical()
		if !seen[key] {
			out.Append(item.Clone())
			seen[key] = true
		}
	}
	for _, item := range source.Items() {
		key := item.Canonical()
		if !seen[key] {
			out.Append(item.Clone())
			seen[key] = true
		}
	}
	return out
}

func arrayHasIds(arr *Value) bool {
	for _, item := range arr.Items() {
		if _, ok := elementID(item); ok {
			return true
		}
	}
	return false
}

func elementID(item *Value) (string, bool) {
	if item.Kind() != KindObject {
		return "", false
	}
	id, ok := item.Field("id")
	if !ok {
		return "", false
	}
	switch id.Kind() {
	case KindString:
		return id.StringVal(), true
	case KindNumber:
		return id.Canonical(), true
	default:
		return "", false
	}
}
