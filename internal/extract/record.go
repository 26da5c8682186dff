// Package extract streams raw biobank records out of an input directory and
// turns them into validated domain entities. One generic pipeline carries the
// shared resolution logic; only the raw-reading strategy varies per source
// format (CSV, XML, JSON). Every entry point produces a fresh, finite
// sequence: calling it again rereads the directory.
package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is a single raw source record with path-addressable fields. Nested
// formats address fields with dotted paths; flat formats by column name.
type Record interface {
	// Get returns the field's scalar value, or "" when the field is absent
	// or empty.
	Get(field string) string
	// Has reports whether the field exists in the record at all, regardless
	// of its value.
	Has(field string) bool
}

// flatRecord is a CSV row keyed by header name.
type flatRecord map[string]string

func (r flatRecord) Get(field string) string { return strings.TrimSpace(r[field]) }

func (r flatRecord) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// treeRecord is a decoded XML or JSON record addressed by dotted path.
type treeRecord map[string]any

func (r treeRecord) Get(field string) string {
	v, ok := resolvePath(map[string]any(r), field)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(scalarString(v))
}

func (r treeRecord) Has(field string) bool {
	_, ok := resolvePath(map[string]any(r), field)
	return ok
}

// resolvePath walks a dotted path through nested maps. Lists collapse to
// their first element, matching the source system's handling of repeated
// elements.
func resolvePath(node any, path string) (any, bool) {
	cur := node
	for _, part := range strings.Split(path, ".") {
		if list, ok := cur.([]any); ok {
			if len(list) == 0 {
				return nil, false
			}
			cur = list[0]
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if list, ok := cur.([]any); ok {
		if len(list) == 0 {
			return nil, false
		}
		cur = list[0]
	}
	return cur, true
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case map[string]any:
		// mxj keeps attributes alongside text content under "#text".
		if txt, ok := t["#text"]; ok {
			return scalarString(txt)
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}
