// Package rtdb is the client side of the hosted hierarchical keyed store
// that holds agents, clients and damage records.
package rtdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

var (
	// ErrNotFound is returned by helpers when a read succeeds but nothing is stored at the path.
	ErrNotFound = errors.New("rtdb: not found")
	// ErrInvalidPath is returned for empty segments or segments with reserved characters.
	ErrInvalidPath = errors.New("rtdb: invalid path")
)

// Store is a keyed store addressed by slash-separated paths.
type Store interface {
	// Get reads the subtree at path. A missing node is not an error; the
	// returned snapshot reports Exists() == false.
	Get(ctx context.Context, path string) (Snapshot, error)
	// Set replaces the subtree at path. A nil value deletes it.
	Set(ctx context.Context, path string, value any) error
	// QueryByField returns the children of collection whose field equals the given value.
	QueryByField(ctx context.Context, collection, field string, equals any) (Snapshot, error)
}

const reservedChars = ".#$[]"

// Join builds a store path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split validates path and returns its segments. The empty path is the root.
func Split(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, reservedChars) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// Snapshot is an immutable view of a node read from the store.
type Snapshot struct {
	key   string
	value any
}

// NewSnapshot wraps an already normalized value.
func NewSnapshot(key string, value any) Snapshot {
	return Snapshot{key: key, value: value}
}

// Key is the last path segment the snapshot was read from.
func (s Snapshot) Key() string { return s.key }

// Exists reports whether anything is stored at the node.
func (s Snapshot) Exists() bool { return s.value != nil }

// Value returns the raw decoded value: map[string]any, []any, string, float64 or bool.
func (s Snapshot) Value() any { return s.value }

// Child descends into a relative path such as "a" or "a/b".
func (s Snapshot) Child(path string) Snapshot {
	cur := s.value
	key := s.key
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		key = seg
		m, ok := cur.(map[string]any)
		if !ok {
			return Snapshot{key: key}
		}
		cur = m[seg]
	}
	return Snapshot{key: key, value: cur}
}

// Keys lists child keys in store order.
func (s Snapshot) Keys() []string {
	m, ok := s.value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	OrderKeys(keys)
	return keys
}

// Children returns the child snapshots in store order.
func (s Snapshot) Children() []Snapshot {
	keys := s.Keys()
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Child(k))
	}
	return out
}

// String returns the node as a string. Numbers and booleans are not coerced.
func (s Snapshot) String() (string, bool) {
	v, ok := s.value.(string)
	return v, ok
}

// Map returns the node as a map, or nil for leaves.
func (s Snapshot) Map() map[string]any {
	m, _ := s.value.(map[string]any)
	return m
}

// Decode converts the node into v using JSON field tags.
func (s Snapshot) Decode(v any) error {
	b, err := json.Marshal(s.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// OrderKeys sorts keys the way the hosted database orders children:
// keys that are canonical 32-bit integers first, numerically, then the
// rest lexicographically.
func OrderKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ni, iok := intKey(keys[i])
		nj, jok := intKey(keys[j])
		switch {
		case iok && jok:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
}

func intKey(k string) (int64, bool) {
	n, err := strconv.ParseInt(k, 10, 32)
	if err != nil || strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}

// normalize turns arbitrary Go values into the JSON data model used by
// snapshots and drops empty branches.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rtdb: encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("rtdb: decode value: %w", err)
	}
	return prune(out), nil
}

// prune removes nil leaves and empty maps; the store has no notion of an empty node.
func prune(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		if p := prune(child); p == nil {
			delete(m, k)
		} else {
			m[k] = p
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = clone(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = clone(c)
		}
		return out
	default:
		return v
	}
}

// Equal compares two normalized values.
func Equal(a, b any) bool {
	na, err := normalize(a)
	if err != nil {
		return false
	}
	nb, err := normalize(b)
	if err != nil {
		return false
	}
	ja, _ := json.Marshal(na)
	jb, _ := json.Marshal(nb)
	return string(ja) == string(jb)
}

// Normalize converts v into the JSON data model used by snapshots.
// Empty maps and nil leaves are dropped; an empty result is nil.
func Normalize(v any) (any, error) {
	return normalize(v)
}

// Assign returns doc with value placed at the relative path segs,
// creating intermediate maps. A nil value removes the node. The result
// is pruned, so it is nil when nothing is left.
func Assign(doc any, segs []string, value any) any {
	if len(segs) == 0 {
		return prune(clone(value))
	}
	root, ok := clone(doc).(map[string]any)
	if !ok {
		root = map[string]any{}
	}
	node := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[s] = next
		}
		node = next
	}
	last := segs[len(segs)-1]
	if value == nil {
		delete(node, last)
	} else {
		node[last] = clone(value)
	}
	return prune(root)
}
