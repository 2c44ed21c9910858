package bptree

import "github.com/btree-query-bench/gbptree/dbms/pager"

// Search binary-searches the first keyCount keys of the node under c. It
// returns the smallest position p with key <= KeyAt(p), or keyCount when
// there is none, and whether KeyAt(p) equals key. An empty node returns
// (0, false) without comparing anything.
func Search[K, V any](c pager.PageCursor, node TreeNode[K, V], compare func(a, b K) int, key K, keyCount int) (int, bool) {
	if keyCount <= 0 {
		return 0, false
	}
	lo, hi := 0, keyCount
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		if compare(node.KeyAt(c, m), key) < 0 {
			lo = m + 1
		} else {
			hi = m
		}
	}
	if lo == keyCount {
		return lo, false
	}
	return lo, compare(node.KeyAt(c, lo), key) == 0
}

// childPosition maps a search result in an internal node to the child to
// descend into. Keys equal to a separator live right of it.
func childPosition(pos int, hit bool) int {
	if hit {
		return pos + 1
	}
	return pos
}
