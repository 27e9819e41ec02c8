// Package engine implements the facade that wires the core subsystems
// together (spec.md §4.7, component C7) and exposes the single public
// API consumed by the Redis-wire front-end and any embedding caller.
package engine

import (
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/GH41318103/kvengine/internal/checkpoint"
	"github.com/GH41318103/kvengine/internal/lock"
	"github.com/GH41318103/kvengine/internal/recovery"
	"github.com/GH41318103/kvengine/internal/store"
	"github.com/GH41318103/kvengine/internal/txn"
	"github.com/GH41318103/kvengine/internal/wal"
)

// Filenames under the data directory, per spec.md §6.1.
const (
	storeFileName = "kvengine.dat"
	walFileName   = "wal.log"
)

// Statistics mirrors spec.md §6.2's Statistics type.
type Statistics struct {
	TotalKeys   int64
	MemoryUsed  int64
	TotalReads  uint64
	TotalWrites uint64
}

// Engine is the opened, ready-to-use embedded database. Open constructs
// the Store, WAL, LockManager, TransactionManager, CheckpointManager,
// and RecoveryManager in that order per spec.md §4.7; the Engine keeps
// all but the RecoveryManager, which runs once during Open.
type Engine struct {
	dataDir   string
	storePath string

	store *store.Store
	wal   *wal.WAL
	locks *lock.Manager
	txns  *txn.Manager
	cp    *checkpoint.Manager

	totalReads  atomic.Uint64
	totalWrites atomic.Uint64

	log *logrus.Entry
}

// Options configures Open.
type Options struct {
	Logger *logrus.Logger

	// AutoFlushThreshold is the number of buffered WAL appends before an
	// automatic flush is forced. Zero selects wal.DefaultAutoFlushThreshold.
	AutoFlushThreshold int
}

// Open wires the components in initialization order, loads the store
// snapshot, runs recovery over the WAL, and returns an Engine ready
// for reads and writes, per spec.md §4.7/§2 "Control flow at open".
func Open(dataDir string, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	storePath := filepath.Join(dataDir, storeFileName)
	walPath := filepath.Join(dataDir, walFileName)

	s := store.New()
	if err := s.Load(storePath); err != nil {
		return nil, fmt.Errorf("engine: load store: %w", err)
	}

	w, err := wal.Open(walPath, wal.Options{Logger: logger, AutoFlushThreshold: opts.AutoFlushThreshold})
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}

	locks := lock.NewManager()
	txns := txn.NewManager(w, locks, s, logger)
	cp := checkpoint.NewManager(w, s, txns, storePath, logger)

	rec := recovery.NewManager(w, s, logger)
	if err := rec.Recover(); err != nil {
		w.Close()
		return nil, fmt.Errorf("engine: recover: %w", err)
	}

	e := &Engine{
		dataDir:   dataDir,
		storePath: storePath,
		store:     s,
		wal:       w,
		locks:     locks,
		txns:      txns,
		cp:        cp,
		log:       logger.WithField("component", "engine"),
	}
	e.log.WithField("data_dir", dataDir).Info("engine: open")
	return e, nil
}

// Put performs put(k,v) as a single-statement transaction: begin,
// write, commit; on failure after the lock is held, roll back.
func (e *Engine) Put(key, value []byte) error {
	t, err := e.txns.Begin()
	if err != nil {
		return fmt.Errorf("engine: put: %w", err)
	}
	if err := e.txns.Put(t, key, value); err != nil {
		e.rollbackAndLog(t)
		return fmt.Errorf("engine: put: %w", err)
	}
	if err := e.txns.Commit(t); err != nil {
		return fmt.Errorf("engine: put: %w", err)
	}
	e.totalWrites.Add(1)
	return nil
}

// Get bypasses the transaction manager and reads directly from the
// store, per spec.md §2 ("A read bypasses the txn manager") and the
// dirty-reads resolution of SPEC_FULL.md §9.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	e.totalReads.Add(1)
	return e.store.Get(key)
}

// Remove performs remove(k) as a single-statement transaction.
func (e *Engine) Remove(key []byte) (bool, error) {
	existed := e.store.Exists(key)

	t, err := e.txns.Begin()
	if err != nil {
		return false, fmt.Errorf("engine: remove: %w", err)
	}
	if err := e.txns.Remove(t, key); err != nil {
		e.rollbackAndLog(t)
		return false, fmt.Errorf("engine: remove: %w", err)
	}
	if err := e.txns.Commit(t); err != nil {
		return false, fmt.Errorf("engine: remove: %w", err)
	}
	e.totalWrites.Add(1)
	return existed, nil
}

// Exists reports whether key is present, bypassing the transaction
// manager like Get.
func (e *Engine) Exists(key []byte) bool {
	e.totalReads.Add(1)
	return e.store.Exists(key)
}

// BatchPut performs every key/value pair in kvs within a single
// transaction: one BEGIN, one PUT per pair, one COMMIT. A failure on
// any pair rolls back the whole batch.
func (e *Engine) BatchPut(kvs map[string][]byte) error {
	t, err := e.txns.Begin()
	if err != nil {
		return fmt.Errorf("engine: batch_put: %w", err)
	}
	for k, v := range kvs {
		if err := e.txns.Put(t, []byte(k), v); err != nil {
			e.rollbackAndLog(t)
			return fmt.Errorf("engine: batch_put: %w", err)
		}
	}
	if err := e.txns.Commit(t); err != nil {
		return fmt.Errorf("engine: batch_put: %w", err)
	}
	e.totalWrites.Add(uint64(len(kvs)))
	return nil
}

// Scan returns all entries whose key begins with prefix, per spec.md
// §4.1/§6.2.
func (e *Engine) Scan(prefix []byte) *store.Iterator {
	e.totalReads.Add(1)
	return e.store.Scan(prefix)
}

// Flush forces a store snapshot to disk, independent of the
// checkpoint/WAL durability path.
func (e *Engine) Flush() error {
	if err := e.store.Flush(e.storePath); err != nil {
		return fmt.Errorf("engine: flush: %w", err)
	}
	return nil
}

// Checkpoint runs the checkpoint manager's durability-boundary advance
// (spec.md §4.6). Exposed for callers that want it on a schedule
// independent of Close.
func (e *Engine) Checkpoint() error {
	return e.cp.Create()
}

// Stats returns a point-in-time snapshot of the engine's counters,
// per spec.md §6.2's Statistics type.
func (e *Engine) Stats() Statistics {
	return Statistics{
		TotalKeys:   int64(e.store.Size()),
		MemoryUsed:  e.store.MemoryUsage(),
		TotalReads:  e.totalReads.Load(),
		TotalWrites: e.totalWrites.Load(),
	}
}

// Close runs the shutdown sequence of spec.md §4.7: checkpoint, then
// store flush, then WAL close.
func (e *Engine) Close() error {
	if err := e.cp.Create(); err != nil {
		e.log.WithError(err).Warn("engine: checkpoint at close failed")
	}
	if err := e.store.Flush(e.storePath); err != nil {
		e.log.WithError(err).Warn("engine: store flush at close failed")
	}
	if err := e.wal.Close(); err != nil {
		return fmt.Errorf("engine: close wal: %w", err)
	}
	e.log.Info("engine: closed")
	return nil
}

func (e *Engine) rollbackAndLog(t *txn.Transaction) {
	if err := e.txns.Rollback(t); err != nil {
		e.log.WithError(err).WithField("txn_id", t.ID).Error("engine: rollback failed")
	}
}
