package bptree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Writer applies structural changes to the tree. Index.Writer hands out a
// new Writer per acquisition, all sharing the index's one modifier; give it
// back with Close. A Writer is used by one goroutine.
type Writer[K, V any] struct {
	index    *Index[K, V]
	modifier *modifier[K, V]
	released atomic.Bool
}

func newIndexModifier[K, V any](t *Index[K, V]) *modifier[K, V] {
	return newModifier(t.node, t.layout, t, stableGeneration, unstableGeneration,
		t.metrics, t.logger)
}

// held reports whether w is still checked out of its index.
func (w *Writer[K, V]) held() error {
	if w.index.closed.Load() {
		return ErrClosed
	}
	if w.released.Load() {
		return ErrWriterReleased
	}
	return nil
}

// Insert adds key and value. When key is present and merge yields a value,
// that value replaces the existing one in place; otherwise a new entry is
// added.
func (w *Writer[K, V]) Insert(key K, value V, merge ValueMerger[V]) error {
	if err := w.held(); err != nil {
		return err
	}
	t := w.index
	c := t.pager.WriteCursor()
	defer c.Close()

	root := t.rootID.Load()
	if err := c.Next(root); err != nil {
		return err
	}
	s, ok, err := w.modifier.insert(c, key, value, merge)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	// The root split: grow the tree by one level.
	newRoot, err := t.AcquireNewID()
	if err != nil {
		return err
	}
	if err := c.Next(newRoot); err != nil {
		return err
	}
	t.node.InitializeInternal(c, stableGeneration, unstableGeneration)
	t.node.SetKeyAt(c, s.key, 0)
	if err := t.node.SetChildAt(c, s.left, 0, stableGeneration, unstableGeneration); err != nil {
		return errors.Wrapf(err, "bptree: new root %d", newRoot)
	}
	if err := t.node.SetChildAt(c, s.right, 1, stableGeneration, unstableGeneration); err != nil {
		return errors.Wrapf(err, "bptree: new root %d", newRoot)
	}
	t.node.SetKeyCount(c, 1)
	c.Close()

	if err := t.publishRoot(newRoot); err != nil {
		return err
	}
	t.logger.Debug("root split", zap.Int64("old_root", root), zap.Int64("new_root", newRoot))
	return nil
}

// Remove deletes the first entry equal to key and returns its value.
func (w *Writer[K, V]) Remove(key K) (V, bool, error) {
	var zero V
	if err := w.held(); err != nil {
		return zero, false, err
	}
	t := w.index
	c := t.pager.WriteCursor()
	defer c.Close()
	if err := c.Next(t.rootID.Load()); err != nil {
		return zero, false, err
	}
	return w.modifier.remove(c, key)
}

// Close gives the writer back to its index. Closing twice fails with
// ErrWriterReleased.
func (w *Writer[K, V]) Close() error {
	if !w.released.CompareAndSwap(false, true) {
		return ErrWriterReleased
	}
	if !w.index.writer.CompareAndSwap(nil, w.modifier) {
		return errors.Wrap(ErrWriterReleased, "bptree: writer was already given back")
	}
	return nil
}
