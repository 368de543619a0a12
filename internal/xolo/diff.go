package xolo

import (
	"fmt"
	"reflect"
	"sort"
)

// AttrChange is one changed attribute between two snapshots of a
// changelog-tagged struct.
type AttrChange struct {
	Attrib string
	Old    interface{}
	New    interface{}
}

// Diff compares two structs of the same type field-by-field, considering
// only fields tagged `changelog:"true"`. Slice-typed fields are compared
// as sorted multisets (order-insensitive). old and new must be pointers to
// the same struct type.
func Diff(old, new interface{}) []AttrChange {
	oldVal := reflect.ValueOf(old).Elem()
	newVal := reflect.ValueOf(new).Elem()
	t := oldVal.Type()

	var changes []AttrChange
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Tag.Get("changelog") != "true" {
			continue
		}
		ov := oldVal.Field(i).Interface()
		nv := newVal.Field(i).Interface()
		if fieldsEqual(ov, nv) {
			continue
		}
		changes = append(changes, AttrChange{Attrib: jsonName(field), Old: ov, New: nv})
	}
	return changes
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	for i, c := range tag {
		if c == ',' {
			return tag[:i]
		}
	}
	return tag
}

func fieldsEqual(a, b interface{}) bool {
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Kind() == reflect.Slice && bv.Kind() == reflect.Slice {
		return sortedMultisetEqual(av, bv)
	}
	return reflect.DeepEqual(a, b)
}

// sortedMultisetEqual compares two slices as multisets: same length, same
// elements once sorted by their string representation. Used for
// PilotGroups/ReleaseGroups/ExcludedGroups/UninstallIDs/KillApps, where
// Fleet/Catalog do not guarantee ordering is meaningful.
func sortedMultisetEqual(a, b reflect.Value) bool {
	if a.Len() != b.Len() {
		return false
	}
	as := make([]string, a.Len())
	bs := make([]string, b.Len())
	for i := 0; i < a.Len(); i++ {
		as[i] = elemKey(a.Index(i))
	}
	for i := 0; i < b.Len(); i++ {
		bs[i] = elemKey(b.Index(i))
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func elemKey(v reflect.Value) string {
	if v.Kind() == reflect.String {
		return v.String()
	}
	return fmt.Sprintf("%v", v.Interface())
}
