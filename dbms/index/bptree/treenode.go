package bptree

import (
	"fmt"

	"github.com/btree-query-bench/gbptree/dbms/pager"
)

// Node header, shared by both node layouts:
//
//	[0]     byte    node type
//	[1-4]   int32   key count
//	[5-28]  GSPP    right sibling
//	[29-52] GSPP    left sibling
const (
	nodeTypeLeaf     byte = 1
	nodeTypeInternal byte = 2

	offsetNodeType     = 0
	offsetKeyCount     = 1
	offsetRightSibling = 5
	offsetLeftSibling  = offsetRightSibling + GSPPSize
	HeaderSize         = offsetLeftSibling + GSPPSize

	childSize = GSPPSize

	// maxIndirectEntries is the ceiling of a one-byte indirection entry.
	maxIndirectEntries = 255
)

var zeroHeader [HeaderSize]byte

// NodeLayoutKind selects how a node maps logical positions to bytes. It is
// fixed when the index file is created.
type NodeLayoutKind uint8

const (
	// SortedLayout keeps entries physically sorted and shifts them on
	// insert and remove.
	SortedLayout NodeLayoutKind = 1
	// IndirectLayout appends entries to free slots and keeps a one-byte
	// per entry table from logical position to slot.
	IndirectLayout NodeLayoutKind = 2
)

func (k NodeLayoutKind) String() string {
	switch k {
	case SortedLayout:
		return "sorted"
	case IndirectLayout:
		return "indirect"
	default:
		return fmt.Sprintf("NodeLayoutKind(%d)", uint8(k))
	}
}

// TreeNode reads and writes one tree node through a page cursor positioned
// on its page. Positions are logical; children of an internal node are
// numbered 0..keyCount. Methods taking generations read or write pointer
// pairs. Callers own key count bookkeeping: insert and remove methods take
// the current count and leave it unchanged.
type TreeNode[K, V any] interface {
	Kind() NodeLayoutKind
	LeafMaxKeyCount() int
	InternalMaxKeyCount() int

	InitializeLeaf(c pager.PageCursor, stable, unstable uint32)
	InitializeInternal(c pager.PageCursor, stable, unstable uint32)
	NodeType(c pager.PageCursor) byte
	IsLeaf(c pager.PageCursor) bool
	IsInternal(c pager.PageCursor) bool
	KeyCount(c pager.PageCursor) int
	SetKeyCount(c pager.PageCursor, count int)

	RightSibling(c pager.PageCursor, stable, unstable uint32) (int64, error)
	LeftSibling(c pager.PageCursor, stable, unstable uint32) (int64, error)
	SetRightSibling(c pager.PageCursor, id int64, stable, unstable uint32) error
	SetLeftSibling(c pager.PageCursor, id int64, stable, unstable uint32) error

	KeyAt(c pager.PageCursor, pos int) K
	SetKeyAt(c pager.PageCursor, key K, pos int)
	ValueAt(c pager.PageCursor, pos int) V
	SetValueAt(c pager.PageCursor, value V, pos int)
	ChildAt(c pager.PageCursor, pos int, stable, unstable uint32) (int64, error)
	SetChildAt(c pager.PageCursor, child int64, pos int, stable, unstable uint32) error

	// InsertKeyValueAt places key and value at pos of a leaf.
	InsertKeyValueAt(c pager.PageCursor, key K, value V, pos, keyCount int)
	// InsertKeyChildAt places key at pos and child at pos+1 of an internal
	// node.
	InsertKeyChildAt(c pager.PageCursor, key K, child int64, pos, keyCount int, stable, unstable uint32) error
	RemoveKeyValueAt(c pager.PageCursor, pos, keyCount int)

	// The ReadWithInsert methods return the node's entries with one extra
	// entry inserted at pos, reusing into's storage. The page is not touched.
	ReadKeysWithInsert(c pager.PageCursor, key K, pos, keyCount int, into []K) []K
	ReadValuesWithInsert(c pager.PageCursor, value V, pos, keyCount int, into []V) []V
	ReadChildrenWithInsert(c pager.PageCursor, child int64, pos, keyCount int, stable, unstable uint32, into []int64) ([]int64, error)

	// The Write methods copy src[from:to] to positions starting at dst of a
	// freshly initialized node.
	WriteKeys(c pager.PageCursor, src []K, from, to, dst int)
	WriteValues(c pager.PageCursor, src []V, from, to, dst int)
	WriteChildren(c pager.PageCursor, src []int64, from, to, dst int, stable, unstable uint32) error
}

// NewTreeNode returns the node layout of the given kind for pageSize bytes
// per node. It fails with ErrCapacity when the capacities derived from the
// sizes are unusable.
func NewTreeNode[K, V any](kind NodeLayoutKind, pageSize int, layout Layout[K, V]) (TreeNode[K, V], error) {
	keySize, valueSize := layout.KeySize(), layout.ValueSize()
	if keySize <= 0 || valueSize < 0 {
		return nil, capacityf("invalid entry sizes key=%d value=%d", keySize, valueSize)
	}
	header := nodeHeader[K, V]{
		layout:    layout,
		keySize:   keySize,
		valueSize: valueSize,
	}

	var node TreeNode[K, V]
	switch kind {
	case SortedLayout:
		header.leafMax = (pageSize - HeaderSize) / (keySize + valueSize)
		header.internalMax = (pageSize - HeaderSize - childSize) / (keySize + childSize)
		node = &sortedNode[K, V]{nodeHeader: header}
	case IndirectLayout:
		header.leafMax = (pageSize - HeaderSize) / (keySize + valueSize + 1)
		header.internalMax = (pageSize - HeaderSize - childSize) / (keySize + childSize + 1)
		if header.leafMax > maxIndirectEntries || header.internalMax > maxIndirectEntries {
			return nil, capacityf("%s layout holds at most %d entries per node, page size %d gives leaf=%d internal=%d",
				kind, maxIndirectEntries, pageSize, header.leafMax, header.internalMax)
		}
		node = &indirectNode[K, V]{nodeHeader: header}
	default:
		return nil, formatMismatchf("unknown node layout %d", uint8(kind))
	}

	if header.leafMax < 2 || header.internalMax < 1 {
		return nil, capacityf("page size %d too small for key=%d value=%d (leaf=%d internal=%d)",
			pageSize, keySize, valueSize, header.leafMax, header.internalMax)
	}
	return node, nil
}

// ─── Header ───────────────────────────────────────────────────────────────────

type nodeHeader[K, V any] struct {
	layout      Layout[K, V]
	keySize     int
	valueSize   int
	leafMax     int
	internalMax int
}

func (h *nodeHeader[K, V]) LeafMaxKeyCount() int     { return h.leafMax }
func (h *nodeHeader[K, V]) InternalMaxKeyCount() int { return h.internalMax }

func (h *nodeHeader[K, V]) InitializeLeaf(c pager.PageCursor, stable, unstable uint32) {
	h.initialize(c, nodeTypeLeaf, stable, unstable)
}

func (h *nodeHeader[K, V]) InitializeInternal(c pager.PageCursor, stable, unstable uint32) {
	h.initialize(c, nodeTypeInternal, stable, unstable)
}

func (h *nodeHeader[K, V]) initialize(c pager.PageCursor, nodeType byte, stable, unstable uint32) {
	c.SetOffset(0)
	c.PutBytes(zeroHeader[:])
	c.SetOffset(offsetNodeType)
	c.PutByte(nodeType)
	// Both pairs were just zeroed, so the writes cannot fail.
	c.SetOffset(offsetRightSibling)
	WritePointerPair(c, NoNode, stable, unstable)
	c.SetOffset(offsetLeftSibling)
	WritePointerPair(c, NoNode, stable, unstable)
}

func (h *nodeHeader[K, V]) NodeType(c pager.PageCursor) byte {
	c.SetOffset(offsetNodeType)
	return c.GetByte()
}

func (h *nodeHeader[K, V]) IsLeaf(c pager.PageCursor) bool {
	return h.NodeType(c) == nodeTypeLeaf
}

func (h *nodeHeader[K, V]) IsInternal(c pager.PageCursor) bool {
	return h.NodeType(c) == nodeTypeInternal
}

func (h *nodeHeader[K, V]) KeyCount(c pager.PageCursor) int {
	c.SetOffset(offsetKeyCount)
	return int(c.GetInt())
}

func (h *nodeHeader[K, V]) SetKeyCount(c pager.PageCursor, count int) {
	c.SetOffset(offsetKeyCount)
	c.PutInt(int32(count))
}

func (h *nodeHeader[K, V]) RightSibling(c pager.PageCursor, stable, unstable uint32) (int64, error) {
	c.SetOffset(offsetRightSibling)
	return ReadPointerPair(c, stable, unstable)
}

func (h *nodeHeader[K, V]) LeftSibling(c pager.PageCursor, stable, unstable uint32) (int64, error) {
	c.SetOffset(offsetLeftSibling)
	return ReadPointerPair(c, stable, unstable)
}

func (h *nodeHeader[K, V]) SetRightSibling(c pager.PageCursor, id int64, stable, unstable uint32) error {
	c.SetOffset(offsetRightSibling)
	return writePointerPair(c, id, stable, unstable)
}

func (h *nodeHeader[K, V]) SetLeftSibling(c pager.PageCursor, id int64, stable, unstable uint32) error {
	c.SetOffset(offsetLeftSibling)
	return writePointerPair(c, id, stable, unstable)
}

// maxKeyCount returns the capacity for a node of the given type.
func (h *nodeHeader[K, V]) maxKeyCount(leaf bool) int {
	if leaf {
		return h.leafMax
	}
	return h.internalMax
}

// ─── Shared helpers ───────────────────────────────────────────────────────────

// moveBytes copies length bytes of the page from one offset to another.
// Overlapping ranges are fine.
func moveBytes(c pager.PageCursor, from, to, length int) {
	if length <= 0 || from == to {
		return
	}
	buf := make([]byte, length)
	c.SetOffset(from)
	c.GetBytes(buf)
	c.SetOffset(to)
	c.PutBytes(buf)
}

type keyReader[K any] interface {
	KeyAt(c pager.PageCursor, pos int) K
}

type valueReader[V any] interface {
	ValueAt(c pager.PageCursor, pos int) V
}

type childReader interface {
	ChildAt(c pager.PageCursor, pos int, stable, unstable uint32) (int64, error)
}

func readKeysWithInsert[K any](n keyReader[K], c pager.PageCursor, key K, pos, keyCount int, into []K) []K {
	into = into[:0]
	for i := 0; i < pos; i++ {
		into = append(into, n.KeyAt(c, i))
	}
	into = append(into, key)
	for i := pos; i < keyCount; i++ {
		into = append(into, n.KeyAt(c, i))
	}
	return into
}

func readValuesWithInsert[V any](n valueReader[V], c pager.PageCursor, value V, pos, keyCount int, into []V) []V {
	into = into[:0]
	for i := 0; i < pos; i++ {
		into = append(into, n.ValueAt(c, i))
	}
	into = append(into, value)
	for i := pos; i < keyCount; i++ {
		into = append(into, n.ValueAt(c, i))
	}
	return into
}

func readChildrenWithInsert(n childReader, c pager.PageCursor, child int64, pos, keyCount int,
	stable, unstable uint32, into []int64) ([]int64, error) {
	into = into[:0]
	for i := 0; i <= keyCount; i++ {
		if i == pos {
			into = append(into, child)
		}
		id, err := n.ChildAt(c, i, stable, unstable)
		if err != nil {
			return into, err
		}
		into = append(into, id)
	}
	if pos == keyCount+1 {
		into = append(into, child)
	}
	return into, nil
}
