package bptree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTree_PutGetDelete(t *testing.T) {
	tr := New()
	tr.Put("k", []byte("v"))

	v, ok := tr.Get("k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, tr.Len())

	assert.True(t, tr.Delete("k"))
	_, ok = tr.Get("k")
	assert.False(t, ok)
	assert.False(t, tr.Delete("k"))
}

func TestTree_PutCopiesInputBytes(t *testing.T) {
	tr := New()
	value := []byte("original")
	tr.Put("k", value)
	value[0] = 'X'

	v, _ := tr.Get("k")
	assert.Equal(t, []byte("original"), v)
}

func TestTree_AscendVisitsMatchingKeysInOrder(t *testing.T) {
	tr := New()
	tr.Put("user:2", []byte("b"))
	tr.Put("user:1", []byte("a"))
	tr.Put("order:1", []byte("c"))

	var seen []string
	tr.Ascend("user:", func(key string, value []byte) bool {
		seen = append(seen, key)
		return true
	})
	assert.Equal(t, []string{"user:1", "user:2"}, seen)
}

func TestTree_AscendStopsEarlyWhenFnReturnsFalse(t *testing.T) {
	tr := New()
	tr.Put("a", []byte("1"))
	tr.Put("b", []byte("2"))
	tr.Put("c", []byte("3"))

	var seen []string
	tr.Ascend("", func(key string, value []byte) bool {
		seen = append(seen, key)
		return len(seen) < 2
	})
	assert.Len(t, seen, 2)
}
