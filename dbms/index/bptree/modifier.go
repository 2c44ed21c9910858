package bptree

import (
	"math"

	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// IDProvider hands out fresh page ids.
type IDProvider interface {
	AcquireNewID() (int64, error)
}

// split is what a node split hands up to its parent.
type split[K any] struct {
	left  int64
	right int64
	key   K
}

// modifier performs structural changes. It is driven by a single write
// cursor and must only be used by the index's single writer.
type modifier[K, V any] struct {
	node              TreeNode[K, V]
	layout            Layout[K, V]
	ids               IDProvider
	stable            uint32
	unstable          uint32
	splitLeftFraction float64
	metrics           *metrics
	logger            *zap.Logger

	// scratch for splits
	keys     []K
	values   []V
	children []int64
}

func newModifier[K, V any](node TreeNode[K, V], layout Layout[K, V], ids IDProvider,
	stable, unstable uint32, m *metrics, logger *zap.Logger) *modifier[K, V] {
	return &modifier[K, V]{
		node:              node,
		layout:            layout,
		ids:               ids,
		stable:            stable,
		unstable:          unstable,
		splitLeftFraction: DefaultSplitLeftFraction,
		metrics:           m,
		logger:            logger,
		keys:              make([]K, 0, node.LeafMaxKeyCount()+1),
		values:            make([]V, 0, node.LeafMaxKeyCount()+1),
		children:          make([]int64, 0, node.InternalMaxKeyCount()+2),
	}
}

// splitPoint returns the number of entries kept left when total entries
// are divided. The floor is intentional.
func splitPoint(total int, fraction float64) int {
	middle := int(math.Floor(float64(total) * fraction))
	return min(max(middle, 1), total-1)
}

// internalSplitPoint is splitPoint for internal nodes, where keys[middle]
// moves up and the right node keeps total-middle-1 keys. The right node
// keeps at least one key whenever total >= 3; with total == 2, which only
// internalMax == 1 produces, it keeps none and a single child.
func internalSplitPoint(total int, fraction float64) int {
	middle := splitPoint(total, fraction)
	if total >= 3 {
		middle = min(middle, total-2)
	}
	return middle
}

// readHeader returns the key count of the node under c and whether it is a
// leaf, rejecting headers no writer produces.
func (m *modifier[K, V]) readHeader(c pager.PageCursor) (int, bool, error) {
	nodeType := m.node.NodeType(c)
	if nodeType != nodeTypeLeaf && nodeType != nodeTypeInternal {
		return 0, false, corruptionf("node %d has unknown type %d", c.CurrentPageID(), nodeType)
	}
	leaf := nodeType == nodeTypeLeaf
	keyCount := m.node.KeyCount(c)
	if keyCount < 0 || keyCount > m.maxKeyCount(leaf) {
		return 0, false, corruptionf("node %d has key count %d", c.CurrentPageID(), keyCount)
	}
	return keyCount, leaf, nil
}

func (m *modifier[K, V]) maxKeyCount(leaf bool) int {
	if leaf {
		return m.node.LeafMaxKeyCount()
	}
	return m.node.InternalMaxKeyCount()
}

// ─── Insert ───────────────────────────────────────────────────────────────────

// insert adds key/value to the subtree rooted at the node under c. When the
// root of that subtree splits, the split is returned with ok set and the
// cursor is left on the split node.
func (m *modifier[K, V]) insert(c pager.PageCursor, key K, value V, merge ValueMerger[V]) (split[K], bool, error) {
	keyCount, leaf, err := m.readHeader(c)
	if err != nil {
		return split[K]{}, false, err
	}
	if leaf {
		return m.insertInLeaf(c, key, value, merge, keyCount)
	}

	current := c.CurrentPageID()
	pos, hit := Search(c, m.node, m.layout.Compare, key, keyCount)
	pos = childPosition(pos, hit)
	child, err := m.node.ChildAt(c, pos, m.stable, m.unstable)
	if err != nil {
		return split[K]{}, false, errors.Wrapf(err, "bptree: child %d of node %d", pos, current)
	}
	if err := c.Next(child); err != nil {
		return split[K]{}, false, err
	}
	s, ok, err := m.insert(c, key, value, merge)
	if err != nil || !ok {
		return s, false, err
	}

	// Re-read the parent after the child write.
	if err := c.Next(current); err != nil {
		return split[K]{}, false, err
	}
	if keyCount, _, err = m.readHeader(c); err != nil {
		return split[K]{}, false, err
	}
	return m.insertInInternal(c, s.key, s.right, pos, keyCount)
}

func (m *modifier[K, V]) insertInLeaf(c pager.PageCursor, key K, value V, merge ValueMerger[V],
	keyCount int) (split[K], bool, error) {
	pos, hit := Search(c, m.node, m.layout.Compare, key, keyCount)
	if hit && merge != nil {
		if merged, ok := merge(m.node.ValueAt(c, pos), value); ok {
			m.node.SetValueAt(c, merged, pos)
			return split[K]{}, false, nil
		}
	}

	if keyCount < m.node.LeafMaxKeyCount() {
		m.node.InsertKeyValueAt(c, key, value, pos, keyCount)
		m.node.SetKeyCount(c, keyCount+1)
		return split[K]{}, false, nil
	}
	return m.splitLeaf(c, key, value, pos, keyCount)
}

// insertInInternal places a key promoted from child pos, with the new right
// half as child pos+1.
func (m *modifier[K, V]) insertInInternal(c pager.PageCursor, key K, child int64, pos, keyCount int) (split[K], bool, error) {
	if keyCount < m.node.InternalMaxKeyCount() {
		if err := m.node.InsertKeyChildAt(c, key, child, pos, keyCount, m.stable, m.unstable); err != nil {
			return split[K]{}, false, err
		}
		m.node.SetKeyCount(c, keyCount+1)
		return split[K]{}, false, nil
	}
	return m.splitInternal(c, key, child, pos, keyCount)
}

// ─── Split ────────────────────────────────────────────────────────────────────
//
// Both splits publish in the same order: populate the new right node with
// its sibling links, point the old right sibling back at it, point the left
// node at it, and only then shrink the left node. A concurrent reader may
// see an entry in both halves but never in neither.

func (m *modifier[K, V]) splitLeaf(c pager.PageCursor, key K, value V, pos, keyCount int) (split[K], bool, error) {
	left := c.CurrentPageID()
	right, err := m.ids.AcquireNewID()
	if err != nil {
		return split[K]{}, false, err
	}
	oldRight, err := m.node.RightSibling(c, m.stable, m.unstable)
	if err != nil {
		return split[K]{}, false, errors.Wrapf(err, "bptree: right sibling of leaf %d", left)
	}

	m.keys = m.node.ReadKeysWithInsert(c, key, pos, keyCount, m.keys)
	m.values = m.node.ReadValuesWithInsert(c, value, pos, keyCount, m.values)
	total := keyCount + 1
	middle := splitPoint(total, m.splitLeftFraction)

	if err := c.Next(right); err != nil {
		return split[K]{}, false, err
	}
	m.node.InitializeLeaf(c, m.stable, m.unstable)
	m.node.WriteKeys(c, m.keys, middle, total, 0)
	m.node.WriteValues(c, m.values, middle, total, 0)
	m.node.SetKeyCount(c, total-middle)
	if err := m.linkNewRight(c, left, right, oldRight); err != nil {
		return split[K]{}, false, err
	}

	if pos < middle {
		m.node.SetKeyCount(c, middle-1)
		m.node.InsertKeyValueAt(c, key, value, pos, middle-1)
	}
	m.node.SetKeyCount(c, middle)

	m.metrics.splits.WithLabelValues("leaf").Inc()
	m.logger.Debug("leaf split",
		zap.Int64("left", left), zap.Int64("right", right), zap.Int("left_keys", middle))
	return split[K]{left: left, right: right, key: m.keys[middle]}, true, nil
}

func (m *modifier[K, V]) splitInternal(c pager.PageCursor, key K, child int64, pos, keyCount int) (split[K], bool, error) {
	left := c.CurrentPageID()
	right, err := m.ids.AcquireNewID()
	if err != nil {
		return split[K]{}, false, err
	}
	oldRight, err := m.node.RightSibling(c, m.stable, m.unstable)
	if err != nil {
		return split[K]{}, false, errors.Wrapf(err, "bptree: right sibling of internal %d", left)
	}

	m.keys = m.node.ReadKeysWithInsert(c, key, pos, keyCount, m.keys)
	m.children, err = m.node.ReadChildrenWithInsert(c, child, pos+1, keyCount, m.stable, m.unstable, m.children)
	if err != nil {
		return split[K]{}, false, errors.Wrapf(err, "bptree: children of internal %d", left)
	}
	total := keyCount + 1
	middle := internalSplitPoint(total, m.splitLeftFraction)

	// keys[middle] moves up; the right node starts with its right child.
	if err := c.Next(right); err != nil {
		return split[K]{}, false, err
	}
	m.node.InitializeInternal(c, m.stable, m.unstable)
	m.node.WriteKeys(c, m.keys, middle+1, total, 0)
	if err := m.node.WriteChildren(c, m.children, middle+1, total+1, 0, m.stable, m.unstable); err != nil {
		return split[K]{}, false, err
	}
	m.node.SetKeyCount(c, total-middle-1)
	if err := m.linkNewRight(c, left, right, oldRight); err != nil {
		return split[K]{}, false, err
	}

	if pos < middle {
		m.node.SetKeyCount(c, middle-1)
		if err := m.node.InsertKeyChildAt(c, key, child, pos, middle-1, m.stable, m.unstable); err != nil {
			return split[K]{}, false, err
		}
	}
	m.node.SetKeyCount(c, middle)

	m.metrics.splits.WithLabelValues("internal").Inc()
	m.logger.Debug("internal split",
		zap.Int64("left", left), zap.Int64("right", right), zap.Int("left_keys", middle))
	return split[K]{left: left, right: right, key: m.keys[middle]}, true, nil
}

// linkNewRight sets the sibling pointers around a new right node, starting
// with the cursor on it and ending with the cursor back on left.
func (m *modifier[K, V]) linkNewRight(c pager.PageCursor, left, right, oldRight int64) error {
	if err := m.node.SetLeftSibling(c, left, m.stable, m.unstable); err != nil {
		return err
	}
	if err := m.node.SetRightSibling(c, oldRight, m.stable, m.unstable); err != nil {
		return err
	}
	if oldRight != NoNode {
		if err := c.Next(oldRight); err != nil {
			return err
		}
		if err := m.node.SetLeftSibling(c, right, m.stable, m.unstable); err != nil {
			return errors.Wrapf(err, "bptree: left sibling of node %d", oldRight)
		}
	}
	if err := c.Next(left); err != nil {
		return err
	}
	return m.node.SetRightSibling(c, right, m.stable, m.unstable)
}

// ─── Remove ───────────────────────────────────────────────────────────────────

// remove deletes the first entry equal to key from the subtree rooted at the
// node under c. Nodes are never merged.
func (m *modifier[K, V]) remove(c pager.PageCursor, key K) (V, bool, error) {
	var zero V
	for {
		keyCount, leaf, err := m.readHeader(c)
		if err != nil {
			return zero, false, err
		}
		pos, hit := Search(c, m.node, m.layout.Compare, key, keyCount)
		if leaf {
			if !hit {
				return zero, false, nil
			}
			value := m.node.ValueAt(c, pos)
			m.node.RemoveKeyValueAt(c, pos, keyCount)
			m.node.SetKeyCount(c, keyCount-1)
			return value, true, nil
		}
		pos = childPosition(pos, hit)
		child, err := m.node.ChildAt(c, pos, m.stable, m.unstable)
		if err != nil {
			return zero, false, errors.Wrapf(err, "bptree: child %d of node %d", pos, c.CurrentPageID())
		}
		if err := c.Next(child); err != nil {
			return zero, false, err
		}
	}
}
