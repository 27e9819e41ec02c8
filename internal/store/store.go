// Package store implements the authoritative in-memory key-value map
// (spec.md §4.1, component C1). It is the target of WAL redo and
// serves every read.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
)

// entryOverhead is a fixed per-entry accounting constant added on top
// of the raw key+value bytes when estimating MemoryUsage, covering the
// slice headers and btree node bookkeeping the raw byte count omits.
const entryOverhead = 48

// Entry is a single key/value pair returned by Scan.
type Entry struct {
	Key   []byte
	Value []byte
}

func less(a, b Entry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// Store is an ordered mapping from key to value, backed by a
// copy-on-write B-tree so Scan can take an O(log n) snapshot instead
// of copying the whole map, per the efficient option spec.md §4.1
// explicitly allows.
type Store struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[Entry]
}

// New constructs an empty store.
func New() *Store {
	return &Store{tree: btree.NewG(32, less)}
}

// Put inserts or overwrites the value for key. Both key and value are
// defensively copied so the caller's slices can be reused afterward
// and snapshots taken by Scan remain point-in-time.
func (s *Store) Put(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree.ReplaceOrInsert(Entry{Key: cloneBytes(key), Value: cloneBytes(value)})
}

// Get returns the value for key and whether it was present.
func (s *Store) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tree.Get(Entry{Key: key})
	if !ok {
		return nil, false
	}
	return cloneBytes(e.Value), true
}

// Remove deletes key, returning whether it was present.
func (s *Store) Remove(key []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tree.Delete(Entry{Key: key})
	return ok
}

// Exists reports whether key is present.
func (s *Store) Exists(key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tree.Get(Entry{Key: key})
	return ok
}

// Iterator is a restartable, finite sequence of entries produced by
// Scan. It reflects a snapshot of the store taken at Scan time;
// concurrent mutations to the store are never observed through it.
type Iterator struct {
	entries []Entry
	idx     int
}

// Next advances the iterator and returns the next entry, or ok=false
// when the sequence is exhausted.
func (it *Iterator) Next() (Entry, bool) {
	if it.idx >= len(it.entries) {
		return Entry{}, false
	}
	e := it.entries[it.idx]
	it.idx++
	return e, true
}

// Len returns the total number of entries the iterator will yield.
func (it *Iterator) Len() int {
	return len(it.entries)
}

// Reset rewinds the iterator to its first entry, so the same snapshot
// can be walked again.
func (it *Iterator) Reset() {
	it.idx = 0
}

// Scan returns all entries whose key begins with prefix, in ascending
// key order, as a snapshot iterator. Clone() gives a cheap,
// copy-on-write view of the tree as it stood at this call; the
// entries collected from it are independent of subsequent Put/Remove
// calls on s.
func (s *Store) Scan(prefix []byte) *Iterator {
	s.mu.RLock()
	snapshot := s.tree.Clone()
	s.mu.RUnlock()

	var entries []Entry
	snapshot.AscendGreaterOrEqual(Entry{Key: prefix}, func(e Entry) bool {
		if !bytes.HasPrefix(e.Key, prefix) {
			return false
		}
		entries = append(entries, Entry{Key: cloneBytes(e.Key), Value: cloneBytes(e.Value)})
		return true
	})

	return &Iterator{entries: entries}
}

// Size returns the number of keys currently stored.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// MemoryUsage returns an estimate, in bytes, of the memory held by the
// store's contents.
func (s *Store) MemoryUsage() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	s.tree.Ascend(func(e Entry) bool {
		total += int64(len(e.Key)) + int64(len(e.Value)) + entryOverhead
		return true
	})
	return total
}

// Flush serializes the entire mapping to path using the length-
// prefixed framing of spec.md §4.1: [u64 count]; for each entry
// [u32 key_len][key][u32 value_len][value]. All integers little-endian.
func (s *Store) Flush(path string) error {
	s.mu.RLock()
	snapshot := s.tree.Clone()
	s.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("store: create snapshot file: %w", err)
	}
	defer f.Close()

	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(snapshot.Len()))
	if _, err := f.Write(countBuf[:]); err != nil {
		return fmt.Errorf("store: write count: %w", err)
	}

	var writeErr error
	snapshot.Ascend(func(e Entry) bool {
		if err := writeEntry(f, e); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}

	return f.Sync()
}

func writeEntry(w io.Writer, e Entry) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("store: write key length: %w", err)
	}
	if _, err := w.Write(e.Key); err != nil {
		return fmt.Errorf("store: write key: %w", err)
	}
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.Value)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("store: write value length: %w", err)
	}
	if _, err := w.Write(e.Value); err != nil {
		return fmt.Errorf("store: write value: %w", err)
	}
	return nil
}

// Load replaces the store's contents with those serialized at path. A
// missing file is equivalent to an empty store.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open snapshot file: %w", err)
	}
	defer f.Close()

	var countBuf [8]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return fmt.Errorf("store: read count: %w", err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])

	tree := btree.NewG(32, less)
	for i := uint64(0); i < count; i++ {
		e, err := readEntry(f)
		if err != nil {
			return fmt.Errorf("store: read entry %d: %w", i, err)
		}
		tree.ReplaceOrInsert(e)
	}

	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
	return nil
}

func readEntry(r io.Reader) (Entry, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Entry{}, err
	}
	key := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, key); err != nil {
		return Entry{}, err
	}

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Entry{}, err
	}
	value := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, value); err != nil {
		return Entry{}, err
	}

	return Entry{Key: key, Value: value}, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
