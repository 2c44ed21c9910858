package bptree

import "github.com/btree-query-bench/gbptree/dbms/pager"

// sortedNode stores entries at their logical position.
//
// Leaf:     header | keys[leafMax] | values[leafMax]
// Internal: header | keys[internalMax] | children[internalMax+1]
type sortedNode[K, V any] struct {
	nodeHeader[K, V]
}

func (n *sortedNode[K, V]) Kind() NodeLayoutKind { return SortedLayout }

func (n *sortedNode[K, V]) keyOffset(pos int) int {
	return HeaderSize + pos*n.keySize
}

func (n *sortedNode[K, V]) valueOffset(pos int) int {
	return HeaderSize + n.leafMax*n.keySize + pos*n.valueSize
}

func (n *sortedNode[K, V]) childOffset(pos int) int {
	return HeaderSize + n.internalMax*n.keySize + pos*childSize
}

func (n *sortedNode[K, V]) KeyAt(c pager.PageCursor, pos int) K {
	c.SetOffset(n.keyOffset(pos))
	return n.layout.ReadKey(c)
}

func (n *sortedNode[K, V]) SetKeyAt(c pager.PageCursor, key K, pos int) {
	c.SetOffset(n.keyOffset(pos))
	n.layout.WriteKey(c, key)
}

func (n *sortedNode[K, V]) ValueAt(c pager.PageCursor, pos int) V {
	c.SetOffset(n.valueOffset(pos))
	return n.layout.ReadValue(c)
}

func (n *sortedNode[K, V]) SetValueAt(c pager.PageCursor, value V, pos int) {
	c.SetOffset(n.valueOffset(pos))
	n.layout.WriteValue(c, value)
}

func (n *sortedNode[K, V]) ChildAt(c pager.PageCursor, pos int, stable, unstable uint32) (int64, error) {
	c.SetOffset(n.childOffset(pos))
	return ReadPointerPair(c, stable, unstable)
}

func (n *sortedNode[K, V]) SetChildAt(c pager.PageCursor, child int64, pos int, stable, unstable uint32) error {
	c.SetOffset(n.childOffset(pos))
	return writePointerPair(c, child, stable, unstable)
}

func (n *sortedNode[K, V]) InsertKeyValueAt(c pager.PageCursor, key K, value V, pos, keyCount int) {
	moveBytes(c, n.keyOffset(pos), n.keyOffset(pos+1), (keyCount-pos)*n.keySize)
	moveBytes(c, n.valueOffset(pos), n.valueOffset(pos+1), (keyCount-pos)*n.valueSize)
	n.SetKeyAt(c, key, pos)
	n.SetValueAt(c, value, pos)
}

func (n *sortedNode[K, V]) InsertKeyChildAt(c pager.PageCursor, key K, child int64, pos, keyCount int,
	stable, unstable uint32) error {
	moveBytes(c, n.keyOffset(pos), n.keyOffset(pos+1), (keyCount-pos)*n.keySize)
	moveBytes(c, n.childOffset(pos+1), n.childOffset(pos+2), (keyCount-pos)*childSize)
	n.SetKeyAt(c, key, pos)
	return n.SetChildAt(c, child, pos+1, stable, unstable)
}

func (n *sortedNode[K, V]) RemoveKeyValueAt(c pager.PageCursor, pos, keyCount int) {
	moveBytes(c, n.keyOffset(pos+1), n.keyOffset(pos), (keyCount-pos-1)*n.keySize)
	moveBytes(c, n.valueOffset(pos+1), n.valueOffset(pos), (keyCount-pos-1)*n.valueSize)
}

func (n *sortedNode[K, V]) ReadKeysWithInsert(c pager.PageCursor, key K, pos, keyCount int, into []K) []K {
	return readKeysWithInsert[K](n, c, key, pos, keyCount, into)
}

func (n *sortedNode[K, V]) ReadValuesWithInsert(c pager.PageCursor, value V, pos, keyCount int, into []V) []V {
	return readValuesWithInsert[V](n, c, value, pos, keyCount, into)
}

func (n *sortedNode[K, V]) ReadChildrenWithInsert(c pager.PageCursor, child int64, pos, keyCount int,
	stable, unstable uint32, into []int64) ([]int64, error) {
	return readChildrenWithInsert(n, c, child, pos, keyCount, stable, unstable, into)
}

func (n *sortedNode[K, V]) WriteKeys(c pager.PageCursor, src []K, from, to, dst int) {
	for i := from; i < to; i++ {
		n.SetKeyAt(c, src[i], dst+i-from)
	}
}

func (n *sortedNode[K, V]) WriteValues(c pager.PageCursor, src []V, from, to, dst int) {
	for i := from; i < to; i++ {
		n.SetValueAt(c, src[i], dst+i-from)
	}
}

func (n *sortedNode[K, V]) WriteChildren(c pager.PageCursor, src []int64, from, to, dst int,
	stable, unstable uint32) error {
	for i := from; i < to; i++ {
		if err := n.SetChildAt(c, src[i], dst+i-from, stable, unstable); err != nil {
			return err
		}
	}
	return nil
}
