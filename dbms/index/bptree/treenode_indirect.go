package bptree

import (
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
)

// indirectNode appends entries to free physical slots and maps logical
// positions to slots through a one-byte table, so inserts move table bytes
// instead of entries.
//
// Leaf:     header | table[leafMax] | slots[leafMax] of key+value
// Internal: header | table[internalMax] | child0 | slots[internalMax] of key+child
//
// In an internal node the child stored with the key at position i is child
// i+1.
type indirectNode[K, V any] struct {
	nodeHeader[K, V]
}

func (n *indirectNode[K, V]) Kind() NodeLayoutKind { return IndirectLayout }

func (n *indirectNode[K, V]) slot(c pager.PageCursor, pos int) int {
	c.SetOffset(HeaderSize + pos)
	return int(c.GetByte())
}

func (n *indirectNode[K, V]) setSlot(c pager.PageCursor, pos, slot int) {
	c.SetOffset(HeaderSize + pos)
	c.PutByte(byte(slot))
}

func (n *indirectNode[K, V]) leafEntryOffset(slot int) int {
	return HeaderSize + n.leafMax + slot*(n.keySize+n.valueSize)
}

func (n *indirectNode[K, V]) child0Offset() int {
	return HeaderSize + n.internalMax
}

func (n *indirectNode[K, V]) internalEntryOffset(slot int) int {
	return n.child0Offset() + childSize + slot*(n.keySize+childSize)
}

// keyOffset reads the node type and the table entry for pos.
func (n *indirectNode[K, V]) keyOffset(c pager.PageCursor, pos int) int {
	leaf := n.IsLeaf(c)
	slot := n.slot(c, pos)
	if leaf {
		return n.leafEntryOffset(slot)
	}
	return n.internalEntryOffset(slot)
}

func (n *indirectNode[K, V]) childOffset(c pager.PageCursor, pos int) int {
	if pos == 0 {
		return n.child0Offset()
	}
	return n.internalEntryOffset(n.slot(c, pos-1)) + n.keySize
}

// freeSlot returns the lowest physical slot no logical position maps to.
func (n *indirectNode[K, V]) freeSlot(c pager.PageCursor, keyCount, capacity int) int {
	table := make([]byte, keyCount)
	c.SetOffset(HeaderSize)
	c.GetBytes(table)
	var used [maxIndirectEntries + 1]bool
	for _, s := range table {
		used[s] = true
	}
	for s := 0; s < capacity; s++ {
		if !used[s] {
			return s
		}
	}
	panic(errors.AssertionFailedf("bptree: no free slot in node with %d of %d entries", keyCount, capacity))
}

// shiftTable opens a gap at pos by moving table entries [pos, keyCount) up one.
func (n *indirectNode[K, V]) shiftTable(c pager.PageCursor, pos, keyCount int) {
	moveBytes(c, HeaderSize+pos, HeaderSize+pos+1, keyCount-pos)
}

func (n *indirectNode[K, V]) KeyAt(c pager.PageCursor, pos int) K {
	c.SetOffset(n.keyOffset(c, pos))
	return n.layout.ReadKey(c)
}

func (n *indirectNode[K, V]) SetKeyAt(c pager.PageCursor, key K, pos int) {
	c.SetOffset(n.keyOffset(c, pos))
	n.layout.WriteKey(c, key)
}

func (n *indirectNode[K, V]) ValueAt(c pager.PageCursor, pos int) V {
	c.SetOffset(n.leafEntryOffset(n.slot(c, pos)) + n.keySize)
	return n.layout.ReadValue(c)
}

func (n *indirectNode[K, V]) SetValueAt(c pager.PageCursor, value V, pos int) {
	c.SetOffset(n.leafEntryOffset(n.slot(c, pos)) + n.keySize)
	n.layout.WriteValue(c, value)
}

func (n *indirectNode[K, V]) ChildAt(c pager.PageCursor, pos int, stable, unstable uint32) (int64, error) {
	c.SetOffset(n.childOffset(c, pos))
	return ReadPointerPair(c, stable, unstable)
}

func (n *indirectNode[K, V]) SetChildAt(c pager.PageCursor, child int64, pos int, stable, unstable uint32) error {
	c.SetOffset(n.childOffset(c, pos))
	return writePointerPair(c, child, stable, unstable)
}

func (n *indirectNode[K, V]) InsertKeyValueAt(c pager.PageCursor, key K, value V, pos, keyCount int) {
	slot := n.freeSlot(c, keyCount, n.leafMax)
	c.SetOffset(n.leafEntryOffset(slot))
	n.layout.WriteKey(c, key)
	n.layout.WriteValue(c, value)
	n.shiftTable(c, pos, keyCount)
	n.setSlot(c, pos, slot)
}

func (n *indirectNode[K, V]) InsertKeyChildAt(c pager.PageCursor, key K, child int64, pos, keyCount int,
	stable, unstable uint32) error {
	slot := n.freeSlot(c, keyCount, n.internalMax)
	c.SetOffset(n.internalEntryOffset(slot))
	n.layout.WriteKey(c, key)
	if err := writePointerPair(c, child, stable, unstable); err != nil {
		return err
	}
	n.shiftTable(c, pos, keyCount)
	n.setSlot(c, pos, slot)
	return nil
}

// RemoveKeyValueAt drops the table entry; the slot becomes free.
func (n *indirectNode[K, V]) RemoveKeyValueAt(c pager.PageCursor, pos, keyCount int) {
	moveBytes(c, HeaderSize+pos+1, HeaderSize+pos, keyCount-pos-1)
}

func (n *indirectNode[K, V]) ReadKeysWithInsert(c pager.PageCursor, key K, pos, keyCount int, into []K) []K {
	return readKeysWithInsert[K](n, c, key, pos, keyCount, into)
}

func (n *indirectNode[K, V]) ReadValuesWithInsert(c pager.PageCursor, value V, pos, keyCount int, into []V) []V {
	return readValuesWithInsert[V](n, c, value, pos, keyCount, into)
}

func (n *indirectNode[K, V]) ReadChildrenWithInsert(c pager.PageCursor, child int64, pos, keyCount int,
	stable, unstable uint32, into []int64) ([]int64, error) {
	return readChildrenWithInsert(n, c, child, pos, keyCount, stable, unstable, into)
}

// Bulk writes lay entries out with position p in slot p.

func (n *indirectNode[K, V]) WriteKeys(c pager.PageCursor, src []K, from, to, dst int) {
	for i := from; i < to; i++ {
		p := dst + i - from
		n.setSlot(c, p, p)
		n.SetKeyAt(c, src[i], p)
	}
}

func (n *indirectNode[K, V]) WriteValues(c pager.PageCursor, src []V, from, to, dst int) {
	for i := from; i < to; i++ {
		p := dst + i - from
		n.setSlot(c, p, p)
		n.SetValueAt(c, src[i], p)
	}
}

func (n *indirectNode[K, V]) WriteChildren(c pager.PageCursor, src []int64, from, to, dst int,
	stable, unstable uint32) error {
	for i := from; i < to; i++ {
		p := dst + i - from
		if p > 0 {
			n.setSlot(c, p-1, p-1)
		}
		if err := n.SetChildAt(c, src[i], p, stable, unstable); err != nil {
			return err
		}
	}
	return nil
}
