// Package memkv implements an in-memory reference backend for the kv
// package contract, backed by github.com/google/btree for ordered
// traversal. It exists so the VM, dispatcher, and scheduler are fully
// runnable and testable without an external MDBX/LevelDB process.
//
// Concurrency discipline mirrors erigon-lib's kv.RwDB: at most one write
// transaction is open process-wide (a one-slot semaphore held for the
// transaction's whole lifetime), up to kv.ReadersLimit read transactions may be open
// concurrently (a counting semaphore), and every reader sees a consistent
// snapshot for its entire lifetime via the btree's copy-on-write Clone.
package memkv

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/gofrs/flock"
	"github.com/google/btree"
	"github.com/pkg/errors"

	pumpkinkv "github.com/pumpkindb/pumpkindb/kv"
)

type item struct {
	key, value []byte
}

func less(a, b item) bool { return bytes.Compare(a.key, b.key) < 0 }

var (
	metricTxBegun    = metrics.NewCounter("pumpkindb_memkv_tx_begun_total")
	metricTxCommit   = metrics.NewCounter("pumpkindb_memkv_tx_commit_total")
	metricTxRollback = metrics.NewCounter("pumpkindb_memkv_tx_rollback_total")
	metricCommitSecs = metrics.NewSummary("pumpkindb_memkv_commit_seconds")
)

// DB is an in-memory implementation of kv.RwDB.
type DB struct {
	maxKeySize uint32

	mu   sync.RWMutex // guards tree
	tree *btree.BTreeG[item]

	writerSem chan struct{}
	readerSem chan struct{}

	nextTxID atomic.Uint64

	// lock is an advisory file lock over the backend's data directory, in
	// the shape of erigon's gofrs/flock usage for its datadir — memkv has no
	// real file to protect, so this is nil unless a path is supplied via
	// WithDataDir, but the field exists so a persistent-file-backed backend built
	// on the same struct (a natural next step)
	// has somewhere to keep it.
	lock *flock.Flock
}

// Option configures a new DB.
type Option func(*DB)

// WithMaxKeySize overrides the default reported by $SYSTEM/MAXKEYSIZE.
func WithMaxKeySize(n uint32) Option {
	return func(d *DB) { d.maxKeySize = n }
}

// WithDataDir takes an advisory file lock on a directory, so only one
// process opens a given data directory at a time — memkv's own data is
// never persisted there, but this lets a single deployment manifest govern
// both a future persistent backend and this in-memory one identically.
func WithDataDir(path string) Option {
	return func(d *DB) { d.lock = flock.New(path + "/LOCK") }
}

// New returns an empty, ready-to-use in-memory backend.
func New(opts ...Option) (*DB, error) {
	d := &DB{
		maxKeySize: pumpkinkv.DefaultMaxKeySize,
		tree:       btree.NewG(32, less),
		writerSem:  make(chan struct{}, 1),
		readerSem:  make(chan struct{}, pumpkinkv.ReadersLimit),
	}
	for _, o := range opts {
		o(d)
	}
	if d.lock != nil {
		locked, err := d.lock.TryLock()
		if err != nil {
			return nil, errors.Wrap(err, "memkv: acquiring data directory lock")
		}
		if !locked {
			return nil, errors.New("memkv: data directory already locked by another process")
		}
	}
	return d, nil
}

// Close releases the backend's OS resources.
func (d *DB) Close() {
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
}

// MaxKeySize implements kv.RoDB.
func (d *DB) MaxKeySize() uint32 { return d.maxKeySize }

// BeginRo implements kv.RoDB, blocking until a reader slot is free or ctx is
// done.
func (d *DB) BeginRo(ctx context.Context) (pumpkinkv.Tx, error) {
	select {
	case d.readerSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.beginRoLocked(), nil
}

// TryBeginRo attempts to start a read transaction without blocking,
// reporting ok=false if no reader slot is currently available. The VM and
// scheduler do not call it; their "entry to READ" suspension point uses the
// blocking BeginRo.
func (d *DB) TryBeginRo() (pumpkinkv.Tx, bool) {
	select {
	case d.readerSem <- struct{}{}:
		return d.beginRoLocked(), true
	default:
		return nil, false
	}
}

func (d *DB) beginRoLocked() pumpkinkv.Tx {
	d.mu.RLock()
	snap := d.tree.Clone()
	d.mu.RUnlock()

	metricTxBegun.Inc()
	return &tx{db: d, id: d.nextTxID.Add(1), tree: snap, ro: true}
}

// BeginRw implements kv.RwDB, blocking until the single writer slot is free
// or ctx is done.
func (d *DB) BeginRw(ctx context.Context) (pumpkinkv.RwTx, error) {
	select {
	case d.writerSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.beginRwLocked(), nil
}

// TryBeginRw mirrors TryBeginRo for the single write slot; the "entry to
// WRITE when the write lock is held" suspension point uses the blocking
// BeginRw instead.
func (d *DB) TryBeginRw() (pumpkinkv.RwTx, bool) {
	select {
	case d.writerSem <- struct{}{}:
		return d.beginRwLocked(), true
	default:
		return nil, false
	}
}

func (d *DB) beginRwLocked() pumpkinkv.RwTx {
	d.mu.Lock()
	snap := d.tree.Clone()
	d.mu.Unlock()

	metricTxBegun.Inc()
	return &tx{db: d, id: d.nextTxID.Add(1), tree: snap, ro: false}
}

type tx struct {
	db     *DB
	id     uint64
	tree   *btree.BTreeG[item]
	ro     bool
	closed bool
}

func (t *tx) ID() uint64 { return t.id }

func (t *tx) Get(key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, pumpkinkv.ErrTxClosed
	}
	it, ok := t.tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return it.value, true, nil
}

func (t *tx) Has(key []byte) (bool, error) {
	if t.closed {
		return false, pumpkinkv.ErrTxClosed
	}
	_, ok := t.tree.Get(item{key: key})
	return ok, nil
}

func (t *tx) Cursor() (pumpkinkv.Cursor, error) {
	if t.closed {
		return nil, pumpkinkv.ErrTxClosed
	}
	return &cursor{tx: t}, nil
}

func (t *tx) RwCursor() (pumpkinkv.RwCursor, error) {
	if t.ro {
		return nil, pumpkinkv.ErrReadOnly
	}
	c, err := t.Cursor()
	if err != nil {
		return nil, err
	}
	return c.(*cursor), nil
}

func (t *tx) Assoc(key, value []byte) error {
	if t.closed {
		return pumpkinkv.ErrTxClosed
	}
	if t.ro {
		return pumpkinkv.ErrReadOnly
	}
	if _, exists := t.tree.Get(item{key: key}); exists {
		return pumpkinkv.ErrDuplicateKey
	}
	t.tree.ReplaceOrInsert(item{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (t *tx) Commit() error {
	if t.closed {
		return pumpkinkv.ErrTxClosed
	}
	start := time.Now()
	defer func() { metricCommitSecs.UpdateDuration(start) }()

	t.closed = true
	if !t.ro {
		t.db.mu.Lock()
		t.db.tree = t.tree
		t.db.mu.Unlock()
		<-t.db.writerSem
	} else {
		<-t.db.readerSem
	}
	metricTxCommit.Inc()
	return nil
}

func (t *tx) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	if t.ro {
		<-t.db.readerSem
	} else {
		<-t.db.writerSem
	}
	metricTxRollback.Inc()
}

type cursor struct {
	tx       *tx
	key, val []byte
	ok       bool
}

func (c *cursor) First() ([]byte, []byte, bool, error) {
	var found item
	hasAny := false
	c.tx.tree.Ascend(func(it item) bool {
		found = it
		hasAny = true
		return false
	})
	return c.settle(found, hasAny)
}

func (c *cursor) Last() ([]byte, []byte, bool, error) {
	var found item
	hasAny := false
	c.tx.tree.Descend(func(it item) bool {
		found = it
		hasAny = true
		return false
	})
	return c.settle(found, hasAny)
}

// settle records a successful move; a failed move leaves the cursor at its
// last valid position, except SeekLast which clears it explicitly.
func (c *cursor) settle(it item, ok bool) ([]byte, []byte, bool, error) {
	if !ok {
		return nil, nil, false, nil
	}
	c.ok = true
	c.key, c.val = it.key, it.value
	return it.key, it.value, true, nil
}

func (c *cursor) Next() ([]byte, []byte, bool, error) {
	if !c.ok {
		return nil, nil, false, nil
	}
	cur := item{key: c.key}
	var found item
	hasNext := false
	c.tx.tree.AscendGreaterOrEqual(cur, func(it item) bool {
		if bytes.Equal(it.key, cur.key) {
			return true // skip current position
		}
		found = it
		hasNext = true
		return false
	})
	return c.settle(found, hasNext)
}

func (c *cursor) Prev() ([]byte, []byte, bool, error) {
	if !c.ok {
		return nil, nil, false, nil
	}
	cur := item{key: c.key}
	var found item
	hasPrev := false
	c.tx.tree.DescendLessOrEqual(cur, func(it item) bool {
		if bytes.Equal(it.key, cur.key) {
			return true // skip current position
		}
		found = it
		hasPrev = true
		return false
	})
	return c.settle(found, hasPrev)
}

func (c *cursor) Seek(seek []byte) ([]byte, []byte, bool, error) {
	var found item
	hasAny := false
	c.tx.tree.AscendGreaterOrEqual(item{key: seek}, func(it item) bool {
		found = it
		hasAny = true
		return false
	})
	return c.settle(found, hasAny)
}

func (c *cursor) SeekLast(prefix []byte) ([]byte, []byte, bool, error) {
	var found item
	hasAny := false
	upper := prefixUpperBound(prefix)
	walk := func(it item) bool {
		if !bytes.HasPrefix(it.key, prefix) {
			return false
		}
		found = it
		hasAny = true
		return true
	}
	if upper == nil {
		c.tx.tree.AscendGreaterOrEqual(item{key: prefix}, walk)
	} else {
		c.tx.tree.AscendRange(item{key: prefix}, item{key: upper}, walk)
	}
	if !hasAny {
		// position left undefined on a miss
		c.ok = false
		c.key, c.val = nil, nil
		return nil, nil, false, nil
	}
	return c.settle(found, true)
}

func (c *cursor) Key() ([]byte, bool)   { return c.key, c.ok }
func (c *cursor) Value() ([]byte, bool) { return c.val, c.ok }
func (c *cursor) Positioned() bool      { return c.ok }
func (c *cursor) Close()                {}

// prefixUpperBound returns the smallest key that is strictly greater than
// every key with the given prefix, or nil if prefix is all 0xFF bytes (no
// finite upper bound, so callers fall back to an unbounded ascend).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
