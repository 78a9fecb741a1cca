package rtdb

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store backed by a tree of maps.
type Memory struct {
	mu   sync.RWMutex
	root map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{root: map[string]any{}}
}

// Get reads a deep copy of the subtree at path.
func (m *Memory) Get(ctx context.Context, path string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	segs, err := Split(path)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var cur any = m.root
	key := ""
	for _, s := range segs {
		key = s
		node, ok := cur.(map[string]any)
		if !ok {
			return Snapshot{key: key}, nil
		}
		cur = node[s]
	}
	if node, ok := cur.(map[string]any); ok && len(node) == 0 {
		cur = nil
	}
	return Snapshot{key: key, value: clone(cur)}, nil
}

// Set writes value at path, creating intermediate nodes. Nil deletes.
func (m *Memory) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return fmt.Errorf("%w: cannot set root", ErrInvalidPath)
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s].(map[string]any)
		if !ok {
			if v == nil {
				return nil
			}
			next = map[string]any{}
			node[s] = next
		}
		node = next
	}
	last := segs[len(segs)-1]
	if v == nil {
		delete(node, last)
		pruned, _ := prune(m.root).(map[string]any)
		if pruned == nil {
			pruned = map[string]any{}
		}
		m.root = pruned
		return nil
	}
	node[last] = v
	return nil
}

// QueryByField scans the direct children of collection.
func (m *Memory) QueryByField(ctx context.Context, collection, field string, equals any) (Snapshot, error) {
	snap, err := m.Get(ctx, collection)
	if err != nil {
		return Snapshot{}, err
	}
	matches := map[string]any{}
	for _, child := range snap.Children() {
		fv := child.Child(field)
		if fv.Exists() && Equal(fv.Value(), equals) {
			matches[child.Key()] = child.Value()
		}
	}
	if len(matches) == 0 {
		return Snapshot{key: snap.Key()}, nil
	}
	return Snapshot{key: snap.Key(), value: matches}, nil
}
