package state

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/emberfield/waystone/pkg/wire"
)

// Delta operators. An update tree mirrors the document shape; plain
// branches merge recursively and a leaf object whose keys all start with
// '$' executes its operators against the value at that path.
const (
	OpSet       = "$set"
	OpAppend    = "$append"
	OpRemove    = "$remove"
	OpUpdate    = "$update"
	OpIncrement = "$increment"
	OpLimit     = "$limit"
)

// operatorOrder fixes execution when one leaf carries several operators,
// so {"$append": turn, "$limit": 20} trims after appending.
var operatorOrder = []string{OpSet, OpRemove, OpUpdate, OpAppend, OpIncrement, OpLimit}

// clampBounds pins numeric fields that must stay inside a closed range no
// matter how large the increment was.
var clampBounds = map[string][2]float64{
	"trust_level": {wire.MinTrustLevel, wire.MaxTrustLevel},
}

// Effect records one observable change produced by applying an update
// tree. Effects drive both the changed/unchanged decision (no effects, no
// version bump) and the derivation of world-update operations.
type Effect struct {
	// Path is the dot path of the leaf inside the document.
	Path string
	// Op names the operator that produced the effect. Plain value
	// replacement reports as $set.
	Op string
	// Value holds the new leaf value for $set and $increment, and the
	// appended element for $append.
	Value any
	// Removed holds the elements deleted by $remove.
	Removed []map[string]any
	// Patched holds the per-element results of $update.
	Patched []Patch
}

// Patch is one element matched and modified by $update.
type Patch struct {
	InstanceID string
	// Fields are the keys the patch changed, excluding the predicate.
	Fields map[string]any
	// Element is the list element after patching.
	Element map[string]any
}

type applyConfig struct {
	lenientRemove bool
}

// ApplyOption adjusts operator behavior for internal maintenance flows.
type ApplyOption func(*applyConfig)

// WithLenientRemove turns a $remove that matches nothing into a no-op
// instead of a conflict. Reset flows use it to force state back without
// caring where an instance currently is.
func WithLenientRemove() ApplyOption {
	return func(c *applyConfig) { c.lenientRemove = true }
}

// Apply executes an update tree against doc in place and returns the
// effects in deterministic (path-sorted) order. A $remove whose predicate
// matches nothing aborts with ErrConflict: the caller composed it against
// a snapshot that no longer holds, and a partial write would hide that.
// The document may be partially modified when an error is returned;
// callers must not persist it.
func Apply(doc Document, updates map[string]any, opts ...ApplyOption) ([]Effect, error) {
	cfg := applyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	var effects []Effect
	if err := applyNode(map[string]any(doc), updates, "", &effects, cfg); err != nil {
		return nil, err
	}
	return effects, nil
}

func applyNode(target, updates map[string]any, prefix string, effects *[]Effect, cfg applyConfig) error {
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := joinPath(prefix, key)
		val := updates[key]

		child, isMap := val.(map[string]any)
		if !isMap {
			applySet(target, key, path, val, effects)
			continue
		}

		ops, plain, err := classifyLeaf(child)
		if err != nil {
			return fmt.Errorf("state: %s: %w", path, err)
		}
		if !plain {
			for _, op := range ops {
				if err := applyOperator(target, key, path, op, child[op], effects, cfg); err != nil {
					return err
				}
			}
			continue
		}

		next, ok := target[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			target[key] = next
		}
		if err := applyNode(next, child, path, effects, cfg); err != nil {
			return err
		}
	}
	return nil
}

// classifyLeaf decides whether a map is an operator leaf or a plain
// branch. Mixing operator and plain keys in one object is ambiguous and
// rejected outright.
func classifyLeaf(m map[string]any) (ops []string, plain bool, err error) {
	var dollar, bare int
	for k := range m {
		if len(k) > 0 && k[0] == '$' {
			dollar++
		} else {
			bare++
		}
	}
	if dollar == 0 {
		return nil, true, nil
	}
	if bare > 0 {
		return nil, false, fmt.Errorf("update mixes operators with plain keys")
	}
	for _, op := range operatorOrder {
		if _, ok := m[op]; ok {
			ops = append(ops, op)
		}
	}
	if len(ops) != dollar {
		for k := range m {
			if k[0] == '$' && !knownOperator(k) {
				return nil, false, fmt.Errorf("unknown operator %q", k)
			}
		}
	}
	return ops, false, nil
}

func knownOperator(op string) bool {
	for _, known := range operatorOrder {
		if op == known {
			return true
		}
	}
	return false
}

func applyOperator(target map[string]any, key, path, op string, arg any, effects *[]Effect, cfg applyConfig) error {
	switch op {
	case OpSet:
		applySet(target, key, path, arg, effects)
		return nil
	case OpAppend:
		return applyAppend(target, key, path, arg, effects)
	case OpRemove:
		return applyRemove(target, key, path, arg, effects, cfg)
	case OpUpdate:
		return applyUpdate(target, key, path, arg, effects)
	case OpIncrement:
		return applyIncrement(target, key, path, arg, effects)
	case OpLimit:
		return applyLimit(target, key, path, arg, effects)
	}
	return fmt.Errorf("state: %s: unknown operator %q", path, op)
}

// applySet replaces the leaf value. Writing a value equal to the current
// one produces no effect, which keeps no-op writes from bumping versions.
func applySet(target map[string]any, key, path string, val any, effects *[]Effect) {
	if old, ok := target[key]; ok && looseEqual(old, val) {
		return
	}
	target[key] = val
	*effects = append(*effects, Effect{Path: path, Op: OpSet, Value: val})
}

func applyAppend(target map[string]any, key, path string, arg any, effects *[]Effect) error {
	list, err := listValue(target[key], path)
	if err != nil {
		return err
	}
	target[key] = append(list, arg)
	*effects = append(*effects, Effect{Path: path, Op: OpAppend, Value: arg})
	return nil
}

func applyRemove(target map[string]any, key, path string, arg any, effects *[]Effect, cfg applyConfig) error {
	pred, ok := arg.(map[string]any)
	if !ok || len(pred) == 0 {
		return fmt.Errorf("state: %s: $remove needs a non-empty predicate object", path)
	}
	list, err := listValue(target[key], path)
	if err != nil {
		return err
	}
	var kept []any
	var removed []map[string]any
	for _, el := range list {
		m, isMap := el.(map[string]any)
		if isMap && matchesPredicate(m, pred) {
			removed = append(removed, m)
			continue
		}
		kept = append(kept, el)
	}
	if len(removed) == 0 {
		if cfg.lenientRemove {
			return nil
		}
		return fmt.Errorf("%w: %s: $remove matched no element for %v", ErrConflict, path, pred)
	}
	if kept == nil {
		kept = []any{}
	}
	target[key] = kept
	*effects = append(*effects, Effect{Path: path, Op: OpRemove, Removed: removed})
	return nil
}

func applyUpdate(target map[string]any, key, path string, arg any, effects *[]Effect) error {
	patches, err := patchList(arg)
	if err != nil {
		return fmt.Errorf("state: %s: %w", path, err)
	}
	list, err := listValue(target[key], path)
	if err != nil {
		return err
	}
	eff := Effect{Path: path, Op: OpUpdate}
	for _, patch := range patches {
		id, ok := patch["instance_id"].(string)
		if !ok || id == "" {
			return fmt.Errorf("state: %s: $update patch needs an instance_id", path)
		}
		fields := make(map[string]any, len(patch)-1)
		for k, v := range patch {
			if k != "instance_id" {
				fields[k] = v
			}
		}
		for _, el := range list {
			m, isMap := el.(map[string]any)
			if !isMap || m["instance_id"] != id {
				continue
			}
			changed := map[string]any{}
			for k, v := range fields {
				if old, exists := m[k]; exists && looseEqual(old, v) {
					continue
				}
				m[k] = v
				changed[k] = v
			}
			if len(changed) > 0 {
				eff.Patched = append(eff.Patched, Patch{InstanceID: id, Fields: changed, Element: m})
			}
		}
	}
	// A patch that matches nothing is a deliberate no-op; talk-style
	// flows update relationship rows that may have been reset underneath
	// them and should not fail for it.
	if len(eff.Patched) > 0 {
		target[key] = list
		*effects = append(*effects, eff)
	}
	return nil
}

func applyIncrement(target map[string]any, key, path string, arg any, effects *[]Effect) error {
	delta, ok := toNumber(arg)
	if !ok {
		return fmt.Errorf("state: %s: $increment needs a number, got %T", path, arg)
	}
	old := 0.0
	if cur, exists := target[key]; exists {
		if old, ok = toNumber(cur); !ok {
			return fmt.Errorf("state: %s: $increment target is %T, not a number", path, cur)
		}
	}
	val := clampValue(key, old+delta)
	if val == old {
		return nil
	}
	target[key] = val
	*effects = append(*effects, Effect{Path: path, Op: OpIncrement, Value: val})
	return nil
}

func applyLimit(target map[string]any, key, path string, arg any, effects *[]Effect) error {
	n, ok := toNumber(arg)
	if !ok || n < 0 {
		return fmt.Errorf("state: %s: $limit needs a non-negative number, got %v", path, arg)
	}
	list, err := listValue(target[key], path)
	if err != nil {
		return err
	}
	limit := int(n)
	if len(list) <= limit {
		return nil
	}
	// Keep the tail: lists under $limit are ring buffers with the most
	// recent entry last.
	trimmed := append([]any{}, list[len(list)-limit:]...)
	target[key] = trimmed
	*effects = append(*effects, Effect{Path: path, Op: OpLimit, Value: trimmed})
	return nil
}

func clampValue(field string, v float64) float64 {
	bounds, ok := clampBounds[field]
	if !ok {
		return v
	}
	if v < bounds[0] {
		return bounds[0]
	}
	if v > bounds[1] {
		return bounds[1]
	}
	return v
}

// listValue coerces the current leaf into a mutable slice. Absent leaves
// become empty lists so list operators can bootstrap them.
func listValue(cur any, path string) ([]any, error) {
	switch l := cur.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return l, nil
	default:
		return nil, fmt.Errorf("state: %s: expected a list, found %T", path, cur)
	}
}

func patchList(arg any) ([]map[string]any, error) {
	switch v := arg.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, el := range v {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("$update patches must be objects, got %T", el)
			}
			out = append(out, m)
		}
		return out, nil
	case []map[string]any:
		return v, nil
	case map[string]any:
		return []map[string]any{v}, nil
	default:
		return nil, fmt.Errorf("$update needs a patch object or list, got %T", arg)
	}
}

func matchesPredicate(el, pred map[string]any) bool {
	for k, want := range pred {
		got, ok := el[k]
		if !ok || !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// looseEqual compares values the way JSON does: numbers compare by value
// regardless of the Go type they arrived in.
func looseEqual(a, b any) bool {
	na, aok := toNumber(a)
	nb, bok := toNumber(b)
	if aok && bok {
		return na == nb
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}
