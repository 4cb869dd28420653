// Package state is the authoritative owner of on-disk world and player
// state.
//
// State lives in JSON files: one world snapshot per shared experience plus
// one view per (user, experience). The store is the only writer; handlers
// mutate through its delta operators, which apply under an advisory file
// lock, bump the view's snapshot version, and publish a world-update event
// after every effective write. Reads never lock; clients reconcile stale
// reads through version comparison.
package state

import "strings"

// Document is a decoded JSON object. The store operates on raw documents
// when writing so that authored fields outside the typed schema survive
// round trips untouched.
type Document map[string]any

// Get resolves a dot-separated path and reports whether it exists.
func (d Document) Get(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Map returns the object at path.
func (d Document) Map(path string) (map[string]any, bool) {
	v, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// List returns the array at path.
func (d Document) List(path string) ([]any, bool) {
	v, ok := d.Get(path)
	if !ok {
		return nil, false
	}
	l, ok := v.([]any)
	return l, ok
}

// Number returns the numeric value at path.
func (d Document) Number(path string) (float64, bool) {
	v, ok := d.Get(path)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

// StringAt returns the string value at path.
func (d Document) StringAt(path string) (string, bool) {
	v, ok := d.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// toNumber widens any JSON-ish numeric value to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
