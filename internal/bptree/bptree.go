// Package bptree is the non-shipping B+Tree prototype slot, kept
// alongside the btree.BTreeG-backed store (SPEC_FULL.md §4.11) to
// compare ordered-map implementations. It is implemented over a
// red-black tree sorted map, not a B+Tree. Nothing in the engine
// imports this package; only its own tests exercise it.
package bptree

import (
	"strings"
	"sync"

	"github.com/igrmk/treemap/v2"
)

// Tree is a concurrency-safe ordered string-keyed map backed by
// igrmk/treemap's red-black tree.
type Tree struct {
	mu   sync.RWMutex
	tree *treemap.TreeMap[string, []byte]
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{tree: treemap.New[string, []byte]()}
}

// Put inserts or overwrites key with a copy of value.
func (t *Tree) Put(key string, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Set(key, stored)
}

// Get returns a copy of the value stored under key, if present.
func (t *Tree) Get(key string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.tree.Get(key)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

// Delete removes key, reporting whether it was present.
func (t *Tree) Delete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tree.Get(key); !ok {
		return false
	}
	t.tree.Del(key)
	return true
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}

// Ascend calls fn for every key with prefix, in ascending key order,
// stopping early if fn returns false.
func (t *Tree) Ascend(prefix string, fn func(key string, value []byte) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for it := t.tree.Iterator(); it.Valid(); it.Next() {
		key := it.Key()
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !fn(key, it.Value()) {
			return
		}
	}
}
