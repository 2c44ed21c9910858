package bptree

import (
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
)

// SeekCursor iterates the entries of a key range in ascending key order
// while a writer may be changing the tree. Every page read is redone until
// it is consistent, and an entry is only emitted when its key is in range
// and strictly greater than the previous one, which filters the stale and
// duplicate entries a concurrent split can expose.
//
// A SeekCursor is used by one goroutine. Close it when done.
type SeekCursor[K, V any] struct {
	cursor    pager.PageCursor
	node      TreeNode[K, V]
	compare   func(a, b K) int
	from      K
	to        K
	inclusive bool
	stable    uint32
	unstable  uint32
	metrics   *metrics

	key     K
	value   V
	hasPrev bool

	// coversEnd caches whether the current leaf's last key is past the end
	// of the range.
	coverageKnown bool
	coversEnd     bool

	done bool
	err  error
}

// Next advances to the next entry and reports whether there is one.
func (s *SeekCursor[K, V]) Next() bool {
	if s.done {
		return false
	}
	leafMax := s.node.LeafMaxKeyCount()
	for {
		var (
			leaf       bool
			keyCount   int
			key, last  K
			value      V
			pos        int
			sibling    int64
			siblingErr error
		)
		for {
			leaf = s.node.IsLeaf(s.cursor)
			keyCount = s.node.KeyCount(s.cursor)
			if keyCount >= 0 && keyCount <= leafMax {
				pos = s.position(keyCount)
				if pos < keyCount {
					key = s.node.KeyAt(s.cursor, pos)
					value = s.node.ValueAt(s.cursor, pos)
				} else {
					sibling, siblingErr = s.node.RightSibling(s.cursor, s.stable, s.unstable)
				}
				if !s.coverageKnown && keyCount > 0 {
					last = s.node.KeyAt(s.cursor, keyCount-1)
				}
			}
			if !s.cursor.ShouldRetry() {
				break
			}
			s.metrics.seekRetries.Inc()
		}

		id := s.cursor.CurrentPageID()
		if s.cursor.CheckAndClearBoundsFlag() {
			return s.fail(corruptionf("read outside leaf %d", id))
		}
		if !leaf || keyCount < 0 || keyCount > leafMax {
			return s.fail(corruptionf("seek reached node %d that is not a valid leaf (key count %d)", id, keyCount))
		}

		freshCoverage := false
		if !s.coverageKnown {
			s.coversEnd = keyCount > 0 && s.pastEnd(last)
			s.coverageKnown = true
			freshCoverage = true
		}

		if pos < keyCount {
			if s.pastEnd(key) {
				if s.coversEnd || freshCoverage {
					s.finish()
					return false
				}
				// The cached coverage is stale; look at this position again.
				s.coverageKnown = false
				continue
			}
			s.key, s.value, s.hasPrev = key, value, true
			return true
		}

		if siblingErr != nil {
			return s.fail(errors.Wrapf(siblingErr, "bptree: right sibling of leaf %d", id))
		}
		if sibling == NoNode {
			s.finish()
			return false
		}
		if err := s.cursor.Next(sibling); err != nil {
			return s.fail(err)
		}
		s.coverageKnown = false
	}
}

// position finds the next entry to look at in the current leaf by key: the
// first key >= from before anything was returned, and the first key greater
// than the last returned one after that. Removals shift entries left under
// a paused cursor, so positions are never carried between reads.
func (s *SeekCursor[K, V]) position(keyCount int) int {
	if !s.hasPrev {
		pos, _ := Search(s.cursor, s.node, s.compare, s.from, keyCount)
		return pos
	}
	pos, hit := Search(s.cursor, s.node, s.compare, s.key, keyCount)
	for hit && pos < keyCount && s.compare(s.node.KeyAt(s.cursor, pos), s.key) <= 0 {
		pos++
	}
	return pos
}

func (s *SeekCursor[K, V]) pastEnd(key K) bool {
	c := s.compare(key, s.to)
	if s.inclusive {
		return c > 0
	}
	return c >= 0
}

// Key returns the key of the current entry.
func (s *SeekCursor[K, V]) Key() K {
	return s.key
}

// Value returns the value of the current entry.
func (s *SeekCursor[K, V]) Value() V {
	return s.value
}

// Error returns the error that ended the iteration, if any.
func (s *SeekCursor[K, V]) Error() error {
	return s.err
}

// Close releases the cursor's page.
func (s *SeekCursor[K, V]) Close() error {
	s.finish()
	return nil
}

func (s *SeekCursor[K, V]) fail(err error) bool {
	s.err = err
	s.finish()
	return false
}

func (s *SeekCursor[K, V]) finish() {
	if s.cursor != nil {
		s.cursor.Close()
	}
	s.done = true
}
