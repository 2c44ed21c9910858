// Package bptree implements a disk-backed B+ tree with one writer and any
// number of concurrent, lock-free readers.
//
// Every node is one page. Child and sibling references are stored as
// generation-stamped pointer pairs: two checksummed slots of which readers
// take the valid one with the highest generation, so a torn pointer write
// never hides the previous value. Leaves and internal nodes of one level
// are linked both ways through sibling pointers; range scans walk the leaf
// level left to right without returning to the root.
//
// Readers never lock. They read pages optimistically and redo any read a
// writer overlapped, and a scan drops every key that is not strictly
// greater than the last one it returned. Splits publish the new right node
// before shrinking the left one, so a scan may see a key twice but never
// misses one.
package bptree

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Index is an open B+ tree file. Seek, Get and AcquireNewID are safe for
// concurrent use; structural changes go through the single Writer.
type Index[K, V any] struct {
	pager  *pager.Pager
	layout Layout[K, V]
	node   TreeNode[K, V]
	meta   meta

	rootID atomic.Int64
	writer atomic.Pointer[modifier[K, V]]

	idMu   sync.Mutex
	lastID int64

	metrics *metrics
	logger  *zap.Logger
	closed  atomic.Bool
}

// Open opens the index file at path, creating it when it does not exist.
// An existing file must have been created with the same layout identifier
// and version and with a page size that fits opts.StoragePageSize;
// otherwise Open fails with ErrFormatMismatch.
func Open[K, V any](path string, layout Layout[K, V], opts Options) (*Index[K, V], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(path)
	}
	m, err := newMetrics(opts.Registerer, name)
	if err != nil {
		return nil, err
	}

	exists := pager.Exists(path)
	pg, err := pager.Open(path, pager.Options{
		PageSize:    opts.StoragePageSize,
		CachePages:  opts.CachePages,
		SyncOnFlush: true,
		Logger:      opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	t := &Index[K, V]{
		pager:   pg,
		layout:  layout,
		metrics: m,
		logger:  opts.Logger.With(zap.String("index", name)),
	}
	if exists {
		err = t.open(opts)
	} else {
		err = t.create(opts)
	}
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	t.writer.Store(newIndexModifier(t))
	t.metrics.lastPageID.Set(float64(t.lastID))
	return t, nil
}

func (t *Index[K, V]) create(opts Options) error {
	node, err := NewTreeNode(opts.NodeLayout, opts.PageSize, t.layout)
	if err != nil {
		return err
	}
	t.node = node
	t.meta = meta{
		pageSize:   opts.PageSize,
		rootID:     firstNodeID,
		lastID:     firstNodeID,
		layoutID:   t.layout.Identifier(),
		major:      t.layout.MajorVersion(),
		minor:      t.layout.MinorVersion(),
		nodeLayout: opts.NodeLayout,
	}

	c := t.pager.WriteCursor()
	defer c.Close()
	if err := writeMeta(c, t.meta, t.layout); err != nil {
		return err
	}
	if err := c.Next(firstNodeID); err != nil {
		return err
	}
	node.InitializeLeaf(c, stableGeneration, unstableGeneration)
	c.Close()

	t.rootID.Store(firstNodeID)
	t.lastID = firstNodeID
	if err := t.pager.Flush(); err != nil {
		return err
	}
	t.logger.Info("index created",
		zap.Int("page_size", opts.PageSize),
		zap.Stringer("node_layout", opts.NodeLayout),
		zap.Int("leaf_max", node.LeafMaxKeyCount()),
		zap.Int("internal_max", node.InternalMaxKeyCount()))
	return nil
}

func (t *Index[K, V]) open(opts Options) error {
	c := t.pager.ReadCursor()
	defer c.Close()
	m, err := readMeta(c, t.layout, opts.StoragePageSize)
	if err != nil {
		return err
	}
	node, err := NewTreeNode(m.nodeLayout, m.pageSize, t.layout)
	if err != nil {
		return err
	}
	t.node = node
	t.meta = m
	t.rootID.Store(m.rootID)
	t.lastID = m.lastID
	t.logger.Info("index opened",
		zap.Int("page_size", m.pageSize),
		zap.Stringer("node_layout", m.nodeLayout),
		zap.Int64("root", m.rootID),
		zap.Int64("last_id", m.lastID))
	return nil
}

// NodeLayout returns the node layout the file was created with.
func (t *Index[K, V]) NodeLayout() NodeLayoutKind {
	return t.meta.nodeLayout
}

// PageSize returns the tree node size.
func (t *Index[K, V]) PageSize() int {
	return t.meta.pageSize
}

// LeafMaxKeyCount returns the number of entries a leaf holds before it splits.
func (t *Index[K, V]) LeafMaxKeyCount() int {
	return t.node.LeafMaxKeyCount()
}

// InternalMaxKeyCount returns the number of keys an internal node holds
// before it splits.
func (t *Index[K, V]) InternalMaxKeyCount() int {
	return t.node.InternalMaxKeyCount()
}

// RootID returns the page id of the current root.
func (t *Index[K, V]) RootID() int64 {
	return t.rootID.Load()
}

// AcquireNewID allocates a fresh page id and records it on the meta page.
func (t *Index[K, V]) AcquireNewID() (int64, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	t.idMu.Lock()
	defer t.idMu.Unlock()
	id := t.lastID + 1
	if id > MaxPointer {
		return 0, errors.Newf("bptree: page id space exhausted at %d", t.lastID)
	}

	c := t.pager.WriteCursor()
	defer c.Close()
	if err := writeLastID(c, id); err != nil {
		return 0, err
	}
	t.lastID = id
	t.metrics.lastPageID.Set(float64(id))
	return id, nil
}

// publishRoot makes id the root for new descents and records it on the
// meta page.
func (t *Index[K, V]) publishRoot(id int64) error {
	c := t.pager.WriteCursor()
	defer c.Close()
	if err := writeRootID(c, id); err != nil {
		return err
	}
	t.rootID.Store(id)
	return nil
}

// ─── Read path ────────────────────────────────────────────────────────────────

// Seek returns a cursor over the entries with from <= key < to. An empty or
// inverted range yields nothing.
func (t *Index[K, V]) Seek(from, to K) (*SeekCursor[K, V], error) {
	return t.seek(from, to, false)
}

// Get returns the value of the first entry equal to key.
func (t *Index[K, V]) Get(key K) (V, bool, error) {
	var zero V
	s, err := t.seek(key, key, true)
	if err != nil {
		return zero, false, err
	}
	defer s.Close()
	if s.Next() {
		return s.Value(), true, nil
	}
	return zero, false, s.Error()
}

func (t *Index[K, V]) seek(from, to K, inclusive bool) (*SeekCursor[K, V], error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	s := &SeekCursor[K, V]{
		node:      t.node,
		compare:   t.layout.Compare,
		from:      from,
		to:        to,
		inclusive: inclusive,
		stable:    stableGeneration,
		unstable:  unstableGeneration,
		metrics:   t.metrics,
	}
	c := t.layout.Compare(from, to)
	if c > 0 || (c == 0 && !inclusive) {
		s.done = true
		return s, nil
	}

	cursor := t.pager.ReadCursor()
	if err := t.descend(cursor, from); err != nil {
		cursor.Close()
		return nil, err
	}
	s.cursor = cursor
	return s, nil
}

// descend positions c on the leaf covering key. A read outside a page means the descent
// followed a pointer a concurrent split had not finished writing, so it
// starts again from the root.
func (t *Index[K, V]) descend(c pager.PageCursor, key K) error {
	for {
		if err := c.Next(t.rootID.Load()); err != nil {
			return err
		}
		restart, err := t.descendFromRoot(c, key)
		if err != nil || !restart {
			return err
		}
		t.logger.Debug("seek restarting at root")
	}
}

func (t *Index[K, V]) descendFromRoot(c pager.PageCursor, key K) (restart bool, err error) {
	for {
		var (
			nodeType byte
			keyCount int
			pos      int
			hit      bool
			child    int64
			childErr error
		)
		for {
			nodeType = t.node.NodeType(c)
			keyCount = t.node.KeyCount(c)
			if keyCount >= 0 && keyCount <= max(t.node.LeafMaxKeyCount(), t.node.InternalMaxKeyCount()) {
				pos, hit = Search(c, t.node, t.layout.Compare, key, keyCount)
				if nodeType == nodeTypeInternal {
					child, childErr = t.node.ChildAt(c, childPosition(pos, hit), stableGeneration, unstableGeneration)
				}
			}
			if !c.ShouldRetry() {
				break
			}
			t.metrics.seekRetries.Inc()
		}
		if c.CheckAndClearBoundsFlag() {
			return true, nil
		}

		id := c.CurrentPageID()
		switch nodeType {
		case nodeTypeLeaf:
			if keyCount < 0 || keyCount > t.node.LeafMaxKeyCount() {
				return false, corruptionf("leaf %d has key count %d", id, keyCount)
			}
			return false, nil
		case nodeTypeInternal:
			if keyCount < 0 || keyCount > t.node.InternalMaxKeyCount() {
				return false, corruptionf("internal node %d has key count %d", id, keyCount)
			}
			if childErr != nil {
				return false, errors.Wrapf(childErr, "bptree: child of internal node %d", id)
			}
			if err := c.Next(child); err != nil {
				return false, err
			}
		default:
			return false, corruptionf("node %d has unknown type %d", id, nodeType)
		}
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Writer takes the single writer. It fails at once with ErrWriterBusy while
// another holder has it.
func (t *Index[K, V]) Writer(opts WriterOptions) (*Writer[K, V], error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	m := t.writer.Swap(nil)
	if m == nil {
		t.metrics.writerContention.Inc()
		return nil, ErrWriterBusy
	}
	m.splitLeftFraction = opts.SplitLeftFraction
	return &Writer[K, V]{index: t, modifier: m}, nil
}

// Flush writes all changed pages to disk.
func (t *Index[K, V]) Flush() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.pager.Flush()
}

// Close flushes and closes the file. The writer must have been released.
func (t *Index[K, V]) Close() error {
	if t.writer.Load() == nil {
		return errors.Wrap(ErrWriterBusy, "bptree: close with writer held")
	}
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := t.pager.Close(); err != nil {
		return err
	}
	t.logger.Info("index closed", zap.Int64("root", t.rootID.Load()), zap.Int64("last_id", t.lastID))
	return nil
}
