// Package lock implements the per-key shared/exclusive lock manager
// used by the transaction manager to enforce strict two-phase locking
// (spec.md §4.3).
package lock

import (
	"sync"
)

// Mode is the mode a transaction requests a key's lock in.
type Mode uint8

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// Request is a single entry in a key's ordered request list, as
// described in spec.md §3's LockRequest type.
type Request struct {
	TxnID   uint64
	Mode    Mode
	Granted bool
}

// Manager holds the lock table and its secondary txn index behind a
// single mutex and condition variable, per spec.md §4.3.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	lockTable map[string][]*Request   // key -> ordered request list
	txnLocks  map[uint64]map[string]bool // txn -> set of keys it holds a request on
}

// NewManager constructs an empty lock manager.
func NewManager() *Manager {
	m := &Manager{
		lockTable: make(map[string][]*Request),
		txnLocks:  make(map[uint64]map[string]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// findRequest returns the existing request this txn holds on key, if
// any, along with its index in the list.
func findRequest(list []*Request, txnID uint64) (*Request, int) {
	for i, r := range list {
		if r.TxnID == txnID {
			return r, i
		}
	}
	return nil, -1
}

// canGrant evaluates the grant rules of spec.md §4.3 for req against
// the other entries in list (req is a member of list). It also
// enforces the FIFO fairness guard of SPEC_FULL.md §4.3: a later
// request must not be granted ahead of an earlier, still-waiting
// request unless it is compatible by virtue of already being held by
// the same txn.
func canGrant(list []*Request, req *Request) bool {
	var granted []*Request
	for _, r := range list {
		if r.Granted {
			granted = append(granted, r)
		}
	}

	// Rule 4: requester already holds EXCLUSIVE -- grant any mode.
	for _, g := range granted {
		if g.TxnID == req.TxnID && g.Mode == Exclusive {
			return true
		}
	}

	// Rule 3: the only granted request is this same txn (including
	// SHARED -> EXCLUSIVE upgrade when this txn is the sole holder).
	if len(granted) == 1 && granted[0].TxnID == req.TxnID {
		return true
	}

	if len(granted) > 0 && req.Mode == Shared {
		// Rule 2: all granted requests are SHARED and the new request
		// is SHARED.
		allShared := true
		for _, g := range granted {
			if g.Mode == Exclusive {
				allShared = false
				break
			}
		}
		if !allShared {
			return false
		}
	} else if len(granted) > 0 {
		// A granted EXCLUSIVE from another txn blocks everything else.
		return false
	}

	// Rule 1 (no granted requests) or rule 2 (all-shared, compatible):
	// still must respect fairness against earlier, still-waiting
	// requests from other transactions.
	for _, r := range list {
		if r == req {
			break
		}
		if !r.Granted && r.TxnID != req.TxnID {
			return false
		}
	}
	return true
}

// reevaluate walks key's request list in arrival order, granting any
// ungranted request that now satisfies the grant rules.
func (m *Manager) reevaluate(key string) {
	list := m.lockTable[key]
	for _, r := range list {
		if !r.Granted && canGrant(list, r) {
			r.Granted = true
		}
	}
}

func (m *Manager) acquire(req *Request, key string) {
	if m.txnLocks[req.TxnID] == nil {
		m.txnLocks[req.TxnID] = make(map[string]bool)
	}
	m.txnLocks[req.TxnID][key] = true
}

// lockBlocking is the shared implementation of lock_shared/lock_exclusive.
func (m *Manager) lockBlocking(txnID uint64, key string, mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lockTable[key]
	existing, _ := findRequest(list, txnID)

	var req *Request
	if existing != nil {
		if existing.Granted && (existing.Mode == Exclusive || existing.Mode == mode) {
			// Already holds an adequate lock.
			return
		}
		// Upgrade or re-request: keep this request's original queue
		// position but change what it's asking for, and mark it
		// pending again until the rules admit it.
		existing.Mode = mode
		existing.Granted = false
		req = existing
	} else {
		req = &Request{TxnID: txnID, Mode: mode}
		list = append(list, req)
		m.lockTable[key] = list
	}

	if canGrant(m.lockTable[key], req) {
		req.Granted = true
		m.acquire(req, key)
		return
	}

	for !req.Granted {
		m.cond.Wait()
	}
	m.acquire(req, key)
}

// LockShared acquires a SHARED lock on key for txnID, blocking until
// it is granted.
func (m *Manager) LockShared(txnID uint64, key string) {
	m.lockBlocking(txnID, key, Shared)
}

// LockExclusive acquires an EXCLUSIVE lock on key for txnID, blocking
// until it is granted.
func (m *Manager) LockExclusive(txnID uint64, key string) {
	m.lockBlocking(txnID, key, Exclusive)
}

// TryLock is the non-blocking variant: it returns false immediately if
// the lock cannot be granted right away, leaving no trace of the
// attempt in the wait queue.
func (m *Manager) TryLock(txnID uint64, key string, mode Mode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lockTable[key]
	existing, _ := findRequest(list, txnID)

	if existing != nil {
		if existing.Granted && (existing.Mode == Exclusive || existing.Mode == mode) {
			return true
		}
		prevMode, prevGranted := existing.Mode, existing.Granted
		existing.Mode = mode
		existing.Granted = false
		if canGrant(m.lockTable[key], existing) {
			existing.Granted = true
			m.acquire(existing, key)
			return true
		}
		existing.Mode = prevMode
		existing.Granted = prevGranted
		return false
	}

	req := &Request{TxnID: txnID, Mode: mode}
	list = append(list, req)
	m.lockTable[key] = list

	if canGrant(m.lockTable[key], req) {
		req.Granted = true
		m.acquire(req, key)
		return true
	}

	// Remove the speculative entry; we are not willing to wait.
	remaining := list[:len(list)-1]
	if len(remaining) == 0 {
		delete(m.lockTable, key)
	} else {
		m.lockTable[key] = remaining
	}
	return false
}

// Unlock releases txnID's request(s) for key. Remaining waiters on key
// are re-evaluated in arrival order and any now-satisfiable requests
// are granted, per spec.md §4.3.
func (m *Manager) Unlock(txnID uint64, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(txnID, key)
	m.reevaluate(key)
	m.cond.Broadcast()
}

// UnlockAll releases every lock held by txnID, performing the per-key
// wake step for each.
func (m *Manager) UnlockAll(txnID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.txnLocks[txnID]))
	for k := range m.txnLocks[txnID] {
		keys = append(keys, k)
	}

	for _, key := range keys {
		m.removeLocked(txnID, key)
		m.reevaluate(key)
	}
	delete(m.txnLocks, txnID)
	m.cond.Broadcast()
}

func (m *Manager) removeLocked(txnID uint64, key string) {
	list := m.lockTable[key]
	out := list[:0]
	for _, r := range list {
		if r.TxnID != txnID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		delete(m.lockTable, key)
	} else {
		m.lockTable[key] = out
	}
	if keys, ok := m.txnLocks[txnID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(m.txnLocks, txnID)
		}
	}
}

// HeldKeys returns the keys on which txnID has been granted a lock;
// a request still waiting for its first grant is not included.
// Exposed for diagnostics and tests.
func (m *Manager) HeldKeys(txnID uint64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.txnLocks[txnID]))
	for k := range m.txnLocks[txnID] {
		keys = append(keys, k)
	}
	return keys
}
