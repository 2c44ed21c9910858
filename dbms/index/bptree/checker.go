package bptree

import (
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// nodeSnapshot is a consistent copy of one node.
type nodeSnapshot[K, V any] struct {
	id       int64
	leaf     bool
	keys     []K
	values   []V
	children []int64
	left     int64
	right    int64
}

// readSnapshot copies the node id, redoing the read until no writer
// overlapped it.
func (t *Index[K, V]) readSnapshot(c pager.PageCursor, id int64) (nodeSnapshot[K, V], error) {
	s := nodeSnapshot[K, V]{id: id}
	if err := c.Next(id); err != nil {
		return s, err
	}
	var (
		nodeType byte
		keyCount int
		err      error
	)
	for {
		err = nil
		s.keys, s.values, s.children = s.keys[:0], s.values[:0], s.children[:0]
		nodeType = t.node.NodeType(c)
		keyCount = t.node.KeyCount(c)
		s.leaf = nodeType == nodeTypeLeaf
		if keyCount >= 0 && keyCount <= max(t.node.LeafMaxKeyCount(), t.node.InternalMaxKeyCount()) {
			for i := 0; i < keyCount; i++ {
				s.keys = append(s.keys, t.node.KeyAt(c, i))
				if s.leaf {
					s.values = append(s.values, t.node.ValueAt(c, i))
				}
			}
			for i := 0; nodeType == nodeTypeInternal && i <= keyCount && err == nil; i++ {
				var child int64
				child, err = t.node.ChildAt(c, i, stableGeneration, unstableGeneration)
				s.children = append(s.children, child)
			}
		}
		if err == nil {
			s.left, err = t.node.LeftSibling(c, stableGeneration, unstableGeneration)
		}
		if err == nil {
			s.right, err = t.node.RightSibling(c, stableGeneration, unstableGeneration)
		}
		if !c.ShouldRetry() {
			break
		}
	}

	if c.CheckAndClearBoundsFlag() {
		return s, corruptionf("node %d reads outside its page", id)
	}
	if nodeType != nodeTypeLeaf && nodeType != nodeTypeInternal {
		return s, corruptionf("node %d has unknown type %d", id, nodeType)
	}
	limit := t.node.InternalMaxKeyCount()
	if s.leaf {
		limit = t.node.LeafMaxKeyCount()
	}
	if keyCount < 0 || keyCount > limit {
		return s, corruptionf("node %d has key count %d, limit %d", id, keyCount, limit)
	}
	if err != nil {
		return s, errors.Wrapf(err, "bptree: node %d", id)
	}
	return s, nil
}

// ─── Consistency check ────────────────────────────────────────────────────────

type checker[K, V any] struct {
	t         *Index[K, V]
	c         pager.PageCursor
	visited   map[int64]bool
	levels    [][]nodeSnapshot[K, V]
	leafDepth int
}

// CheckConsistency walks the whole tree and reports the first structural
// problem as an ErrCorruption: keys out of order or outside the range their
// parent assigns, key counts out of bounds, nodes reachable twice, leaves at
// different depths, or sibling pointers that disagree with the tree order.
// It is meant for a quiescent tree; a concurrent writer can make it report
// problems that are only transient.
func (t *Index[K, V]) CheckConsistency() error {
	if t.closed.Load() {
		return ErrClosed
	}
	c := t.pager.ReadCursor()
	defer c.Close()

	ck := &checker[K, V]{t: t, c: c, visited: make(map[int64]bool), leafDepth: -1}
	if err := ck.walk(t.rootID.Load(), nil, nil, 0); err != nil {
		t.logger.Error("consistency check failed", zap.Error(err))
		return err
	}
	if err := ck.checkSiblings(); err != nil {
		t.logger.Error("consistency check failed", zap.Error(err))
		return err
	}
	return nil
}

func (ck *checker[K, V]) walk(id int64, lower, upper *K, depth int) error {
	if ck.visited[id] {
		return corruptionf("node %d is reachable twice", id)
	}
	ck.visited[id] = true

	s, err := ck.t.readSnapshot(ck.c, id)
	if err != nil {
		return err
	}
	if len(ck.levels) <= depth {
		ck.levels = append(ck.levels, nil)
	}
	ck.levels[depth] = append(ck.levels[depth], s)

	compare := ck.t.layout.Compare
	for i, k := range s.keys {
		if i > 0 && compare(s.keys[i-1], k) > 0 {
			return corruptionf("node %d keys out of order at position %d", id, i)
		}
		if (lower != nil && compare(k, *lower) < 0) || (upper != nil && compare(k, *upper) > 0) {
			return corruptionf("node %d key at position %d outside the range of its parent", id, i)
		}
	}

	if s.leaf {
		if ck.leafDepth == -1 {
			ck.leafDepth = depth
		} else if ck.leafDepth != depth {
			return corruptionf("leaf %d at depth %d, other leaves at depth %d", id, depth, ck.leafDepth)
		}
		return nil
	}
	for i, child := range s.children {
		lo, hi := lower, upper
		if i > 0 {
			lo = &s.keys[i-1]
		}
		if i < len(s.keys) {
			hi = &s.keys[i]
		}
		if err := ck.walk(child, lo, hi, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkSiblings verifies that every level is linked left to right in tree
// order with NoNode at both ends.
func (ck *checker[K, V]) checkSiblings() error {
	for depth, level := range ck.levels {
		for i, s := range level {
			wantLeft, wantRight := NoNode, NoNode
			if i > 0 {
				wantLeft = level[i-1].id
			}
			if i < len(level)-1 {
				wantRight = level[i+1].id
			}
			if s.left != wantLeft {
				return corruptionf("node %d at depth %d has left sibling %d, want %d", s.id, depth, s.left, wantLeft)
			}
			if s.right != wantRight {
				return corruptionf("node %d at depth %d has right sibling %d, want %d", s.id, depth, s.right, wantRight)
			}
		}
	}
	return nil
}
