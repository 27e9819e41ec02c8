// Package txn implements the transaction lifecycle (spec.md §4.4,
// component C4): it allocates transaction ids, drives the lock
// manager, logs to the WAL, and applies writes to the store.
package txn

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/GH41318103/kvengine/internal/lock"
	"github.com/GH41318103/kvengine/internal/store"
	"github.com/GH41318103/kvengine/internal/wal"
)

// State is a transaction's lifecycle stage.
type State uint8

const (
	Running State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// writeOp records one logged write this txn performed, in order, along
// with the pre-image needed to undo it correctly, so rollback can
// restore each key to its state before the txn touched it (the
// pre-image variant of spec.md §9, resolved in SPEC_FULL.md §3).
type writeOp struct {
	key      []byte
	hadOld   bool
	oldValue []byte
}

// Transaction is a single in-flight unit of work, per spec.md §3.
type Transaction struct {
	ID        uint64
	State     State
	StartLSN  uint64
	writeKeys []writeOp

	mgr *Manager
}

// WriteKeys returns, in order, the keys this transaction has written
// or removed so far.
func (t *Transaction) WriteKeys() []string {
	keys := make([]string, len(t.writeKeys))
	for i, op := range t.writeKeys {
		keys[i] = string(op.key)
	}
	return keys
}

// Manager owns the active-transaction table and next-id counter behind
// a single mutex, per spec.md §4.4/§5.
type Manager struct {
	mu        sync.Mutex
	nextTxnID uint64
	active    map[uint64]*Transaction

	wal   *wal.WAL
	locks *lock.Manager
	store *store.Store
	log   *logrus.Entry
}

// NewManager constructs a transaction manager over the given WAL, lock
// manager, and store. All three must already be open.
func NewManager(w *wal.WAL, locks *lock.Manager, s *store.Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		active: make(map[uint64]*Transaction),
		wal:    w,
		locks:  locks,
		store:  s,
		log:    logger.WithField("component", "txn"),
	}
}

// Begin allocates the next txn id, logs BEGIN, and inserts the new
// transaction into the active table.
func (m *Manager) Begin() (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextTxnID + 1
	m.nextTxnID = id

	lsn, err := m.wal.Append(wal.LogRecord{Type: wal.RecordBegin, TxnID: id})
	if err != nil {
		return nil, fmt.Errorf("txn: append BEGIN: %w", err)
	}

	t := &Transaction{ID: id, State: Running, StartLSN: lsn, mgr: m}
	m.active[id] = t
	m.log.WithField("txn_id", id).Debug("txn: begin")
	return t, nil
}

// Put requires t to be RUNNING. It acquires an EXCLUSIVE lock on k
// (may block), logs a PUT record carrying k's previous value as a
// pre-image for rollback, applies the write to the store, and records
// k in t's write set.
func (m *Manager) Put(t *Transaction, key, value []byte) error {
	if t.State != Running {
		return fmt.Errorf("txn: put on txn %d in state %s, want RUNNING", t.ID, t.State)
	}

	m.locks.LockExclusive(t.ID, string(key))

	oldValue, existed := m.store.Get(key)
	rec := wal.LogRecord{
		Type:        wal.RecordPut,
		TxnID:       t.ID,
		Key:         key,
		Value:       value,
		HasOldValue: existed,
		OldValue:    oldValue,
	}
	if _, err := m.wal.Append(rec); err != nil {
		return fmt.Errorf("txn: append PUT: %w", err)
	}

	m.store.Put(key, value)
	t.writeKeys = append(t.writeKeys, writeOp{key: cloneKey(key), hadOld: existed, oldValue: oldValue})
	return nil
}

// Remove is the symmetric counterpart of Put: DELETE log type,
// store.Remove application.
func (m *Manager) Remove(t *Transaction, key []byte) error {
	if t.State != Running {
		return fmt.Errorf("txn: remove on txn %d in state %s, want RUNNING", t.ID, t.State)
	}

	m.locks.LockExclusive(t.ID, string(key))

	oldValue, existed := m.store.Get(key)
	rec := wal.LogRecord{
		Type:        wal.RecordDelete,
		TxnID:       t.ID,
		Key:         key,
		HasOldValue: existed,
		OldValue:    oldValue,
	}
	if _, err := m.wal.Append(rec); err != nil {
		return fmt.Errorf("txn: append DELETE: %w", err)
	}

	m.store.Remove(key)
	t.writeKeys = append(t.writeKeys, writeOp{key: cloneKey(key), hadOld: existed, oldValue: oldValue})
	return nil
}

// Commit appends a COMMIT record, flushes the WAL (the durability
// point), marks the transaction COMMITTED, releases its locks, and
// removes it from the active table.
func (m *Manager) Commit(t *Transaction) error {
	if t.State != Running {
		return fmt.Errorf("txn: commit on txn %d in state %s, want RUNNING", t.ID, t.State)
	}

	if _, err := m.wal.Append(wal.LogRecord{Type: wal.RecordCommit, TxnID: t.ID}); err != nil {
		return fmt.Errorf("txn: append COMMIT: %w", err)
	}
	if err := m.wal.Flush(); err != nil {
		return fmt.Errorf("txn: flush on commit: %w", err)
	}

	t.State = Committed
	m.locks.UnlockAll(t.ID)

	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()

	m.log.WithField("txn_id", t.ID).Debug("txn: commit")
	return nil
}

// Rollback undoes t's writes in reverse order using the pre-image
// carried alongside each write, appends a ROLLBACK record, flushes,
// releases locks, and drops t from the active table.
func (m *Manager) Rollback(t *Transaction) error {
	if t.State != Running {
		return fmt.Errorf("txn: rollback on txn %d in state %s, want RUNNING", t.ID, t.State)
	}

	for i := len(t.writeKeys) - 1; i >= 0; i-- {
		undoWrite(m.store, t.writeKeys[i])
	}

	if _, err := m.wal.Append(wal.LogRecord{Type: wal.RecordRollback, TxnID: t.ID}); err != nil {
		return fmt.Errorf("txn: append ROLLBACK: %w", err)
	}
	if err := m.wal.Flush(); err != nil {
		return fmt.Errorf("txn: flush on rollback: %w", err)
	}

	t.State = Aborted
	m.locks.UnlockAll(t.ID)

	m.mu.Lock()
	delete(m.active, t.ID)
	m.mu.Unlock()

	m.log.WithField("txn_id", t.ID).Debug("txn: rollback")
	return nil
}

// ActiveTransactions returns the ids of all RUNNING transactions.
func (m *Manager) ActiveTransactions() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint64, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// StartLSNOf returns the BEGIN LSN of a still-active transaction, for
// the checkpoint manager's truncation-floor computation (spec.md
// §4.6 step 4).
func (m *Manager) StartLSNOf(txnID uint64) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[txnID]
	if !ok {
		return 0, false
	}
	return t.StartLSN, true
}

func cloneKey(k []byte) []byte {
	out := make([]byte, len(k))
	copy(out, k)
	return out
}

// undoWrite restores a single key to its state before op was applied:
// put back the pre-image if the key existed, or remove it if the txn
// created it. Recovery's Undo phase applies the same rule to WAL
// records in its own code; the two packages share no undo function.
func undoWrite(s *store.Store, op writeOp) {
	if op.hadOld {
		s.Put(op.key, op.oldValue)
	} else {
		s.Remove(op.key)
	}
}
