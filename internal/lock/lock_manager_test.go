package lock

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SharedLocksCoexist(t *testing.T) {
	m := NewManager()
	m.LockShared(1, "k")
	m.LockShared(2, "k")
	assert.True(t, m.TryLock(3, "k", Shared))
}

func TestManager_ExclusiveExcludesEverything(t *testing.T) {
	m := NewManager()
	m.LockExclusive(1, "k")

	assert.False(t, m.TryLock(2, "k", Shared))
	assert.False(t, m.TryLock(2, "k", Exclusive))

	m.Unlock(1, "k")
	assert.True(t, m.TryLock(2, "k", Exclusive))
}

func TestManager_SameTxnSelfCompatible(t *testing.T) {
	m := NewManager()
	m.LockShared(1, "k")
	assert.True(t, m.TryLock(1, "k", Shared))
	assert.True(t, m.TryLock(1, "k", Exclusive)) // upgrade, sole holder
	assert.True(t, m.TryLock(1, "k", Shared))    // already holds EXCLUSIVE
}

func TestManager_UpgradeBlockedByOtherSharedHolder(t *testing.T) {
	m := NewManager()
	m.LockShared(1, "k")
	m.LockShared(2, "k")

	assert.False(t, m.TryLock(1, "k", Exclusive))
}

func TestManager_UnlockWakesWaiter(t *testing.T) {
	m := NewManager()
	m.LockExclusive(1, "k")

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		m.LockExclusive(2, "k")
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("txn 2 should not have acquired the lock yet")
	default:
	}

	m.Unlock(1, "k")
	wg.Wait()
	<-acquired
}

func TestManager_UnlockAllReleasesEveryKey(t *testing.T) {
	m := NewManager()
	m.LockExclusive(1, "a")
	m.LockExclusive(1, "b")

	m.UnlockAll(1)

	assert.True(t, m.TryLock(2, "a", Exclusive))
	assert.True(t, m.TryLock(3, "b", Exclusive))
}

func TestManager_FairnessExclusiveNotBypassedByLaterShared(t *testing.T) {
	m := NewManager()
	m.LockShared(1, "k") // granted

	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		m.LockExclusive(2, "k") // must wait behind txn 1's shared hold
		close(acquired)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	// A later SHARED request must not jump ahead of the waiting
	// EXCLUSIVE request once it is queued.
	assert.False(t, m.TryLock(3, "k", Shared))

	m.Unlock(1, "k")
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("txn 2 never acquired the exclusive lock")
	}
	m.Unlock(2, "k")
}

func TestManager_ConcurrentDisjointKeysDoNotBlock(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := uint64(0); i < 50; i++ {
		wg.Add(1)
		go func(txn uint64) {
			defer wg.Done()
			key := "key"
			m.LockExclusive(txn, key+strconv.FormatUint(txn, 10))
			m.Unlock(txn, key+strconv.FormatUint(txn, 10))
		}(i)
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disjoint-key locking deadlocked or hung")
	}
}

func TestManager_HeldKeysReflectsGrantedLocks(t *testing.T) {
	m := NewManager()
	m.LockExclusive(1, "a")
	m.LockExclusive(1, "b")

	keys := m.HeldKeys(1)
	require.Len(t, keys, 2)
}
