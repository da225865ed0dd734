// Package configtree implements the structural configuration model used by
// the deployment engine: a schema-less tagged-union value type with
// deterministic diff, strategy-based merge, and patch application. Trees are
// value objects; every operation works on clones and never mutates its input.
package configtree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name used in conflict reports.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is one node of a configuration tree. The zero value is null.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	str    string
	items  []*Value
	fields map[string]*Value
}

// Null returns the null value.
func Null() *Value { return &Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) *Value { return &Value{kind: KindNumber, num: n} }

// String returns a string value.
func String(s string) *Value { return &Value{kind: KindString, str: s} }

// Array returns an array value holding the given items.
func Array(items ...*Value) *Value {
	return &Value{kind: KindArray, items: items}
}

// Object returns an empty object value.
func Object() *Value {
	return &Value{kind: KindObject, fields: make(map[string]*Value)}
}

// Kind returns the variant of the value.
func (v *Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v *Value) IsNull() bool { return v == nil || v.kind == KindNull }

// BoolVal returns the boolean payload (false for non-bool values).
func (v *Value) BoolVal() bool { return v.b }

// NumberVal returns the numeric payload (0 for non-number values).
func (v *Value) NumberVal() float64 { return v.num }

// StringVal returns the string payload ("" for non-string values).
func (v *Value) StringVal() string { return v.str }

// Items returns the array payload. Callers must not mutate the slice.
func (v *Value) Items() []*Value { return v.items }

// Len returns the number of array items or object fields.
func (v *Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.fields)
	default:
		return 0
	}
}

// Keys returns the object's field names in sorted order. Every tree walk in
// the engine iterates in this order so diffs and merges are deterministic.
func (v *Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.fields))
	for k := range v.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field returns the named object field.
func (v *Value) Field(key string) (*Value, bool) {
	if v == nil || v.kind != KindObject {
		return nil, false
	}
	f, ok := v.fields[key]
	return f, ok
}

// SetField sets the named object field. Panics if the value is not an object.
func (v *Value) SetField(key string, val *Value) {
	if v.kind != KindObject {
		panic("configtree: SetField on non-object value")
	}
	v.fields[key] = val
}

// DeleteField removes the named object field.
func (v *Value) DeleteField(key string) {
	if v.kind == KindObject {
		delete(v.fields, key)
	}
}

// SetItem replaces the item at index i of an array value.
func (v *Value) SetItem(i int, val *Value) {
	if v.kind != KindArray {
		panic("configtree: SetItem on non-array value")
	}
	v.items[i] = val
}

// Append adds an item to an array value. Panics if the value is not an array.
func (v *Value) Append(val *Value) {
	if v.kind != KindArray {
		panic("configtree: Append on non-array value")
	}
	v.items = append(v.items, val)
}

// Clone returns a deep copy.
func (v *Value) Clone() *Value {
	if v == nil {
		return Null()
	}
	out := &Value{kind: v.kind, b: v.b, num: v.num, str: v.str}
	switch v.kind {
	case KindArray:
		out.items = make([]*Value, len(v.items))
		for i, item := range v.items {
			out.items[i] = item.Clone()
		}
	case KindObject:
		out.fields = make(map[string]*Value, len(v.fields))
		for k, f := range v.fields {
			out.fields[k] = f.Clone()
		}
	}
	return out
}

// Equal reports deep structural equality.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a.IsNull() && b.IsNull()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for k, av := range a.fields {
			bv, ok := b.fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Canonical returns a deterministic serialization of the value (sorted-key
// JSON). Array elements are compared by this form when no id field is
// available.
func (v *Value) Canonical() string {
	var sb strings.Builder
	v.writeCanonical(&sb)
	return sb.String()
}

func (v *Value) writeCanonical(sb *strings.Builder) {
	if v == nil {
		sb.WriteString("null")
		return
	}
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		if v.b {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNumber:
		data, _ := json.Marshal(v.num)
		sb.Write(data)
	case KindString:
		data, _ := json.Marshal(v.str)
		sb.Write(data)
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteByte(',')
			}
			item.writeCanonical(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				sb.WriteByte(',')
			}
			data, _ := json.Marshal(k)
			sb.Write(data)
			sb.WriteByte(':')
			v.fields[k].writeCanonical(sb)
		}
		sb.WriteByte('}')
	}
}

// FromGo converts a decoded interface tree (as produced by encoding/json,
// yaml.v3 or go-toml) into a Value.
func FromGo(in interface{}) (*Value, error) {
	switch t := in.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case time.Time:
		// go-toml decodes datetimes natively; the tree keeps them as strings
		return String(t.Format(time.RFC3339)), nil
	case []interface{}:
		arr := Array()
		for _, item := range t {
			val, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			arr.Append(val)
		}
		return arr, nil
	case map[string]interface{}:
		obj := Object()
		for k, item := range t {
			val, err := FromGo(item)
			if err != nil {
				return nil, err
			}
			obj.SetField(k, val)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", in)
	}
}

// ToGo converts a Value back into a plain interface tree suitable for
// encoding/json or schema validation.
func (v *Value) ToGo() interface{} {
	if v == nil {
		return nil
	}
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindArray:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.ToGo()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.fields))
		for k, f := range v.fields {
			out[k] = f.ToGo()
		}
		return out
	}
	return nil
}

// joinPath appends a key to a dotted path.
func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// GetPath resolves a dotted path against an object tree.
func (v *Value) GetPath(path string) (*Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		next, ok := cur.Field(seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// SetPath sets the value at a dotted path, creating intermediate objects as
// needed. Intermediate non-object values are replaced by objects.
func (v *Value) SetPath(path string, val *Value) {
	if v.kind != KindObject {
		panic("configtree: SetPath on non-object value")
	}
	segs := strings.Split(path, ".")
	cur := v
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Field(seg)
		if !ok || next.kind != KindObject {
			next = Object()
			cur.SetField(seg, next)
		}
		cur = next
	}
	cur.SetField(segs[len(segs)-1], val)
}

// DeletePath removes the value at a dotted path. Missing paths are a no-op.
func (v *Value) DeletePath(path string) {
	segs := strings.Split(path, ".")
	cur := v
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.Field(seg)
		if !ok {
			return
		}
		cur = next
	}
	cur.DeleteField(segs[len(segs)-1])
}
