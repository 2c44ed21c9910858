package bptree

import (
	"bytes"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTree returns an index with keys 0..n-1 over several leaves and the
// writer released.
func buildTree(t *testing.T, kind NodeLayoutKind, n int64) *Index[int64, int64] {
	t.Helper()
	idx, _ := openIndex(t, smallOptions(kind))
	w, err := idx.Writer(WriterOptions{})
	require.NoError(t, err)
	for k := int64(0); k < n; k++ {
		require.NoError(t, w.Insert(k, k, nil))
	}
	require.NoError(t, w.Close())
	require.NoError(t, idx.CheckConsistency())
	return idx
}

func corruptPage(t *testing.T, idx *Index[int64, int64], id int64, fn func(c pager.PageCursor)) {
	t.Helper()
	c := idx.pager.WriteCursor()
	defer c.Close()
	require.NoError(t, c.Next(id))
	fn(c)
}

func TestCheckConsistency_DetectsBrokenSiblingPointer(t *testing.T) {
	for _, kind := range nodeLayouts {
		t.Run(kind.String(), func(t *testing.T) {
			idx := buildTree(t, kind, 20)
			first := leafLevel(t, idx)[0]

			corruptPage(t, idx, first.id, func(c pager.PageCursor) {
				c.SetOffset(offsetRightSibling)
				c.PutBytes(bytes.Repeat([]byte{0xFF}, GSPPSize))
			})

			assert.ErrorIs(t, idx.CheckConsistency(), ErrCorruption)
			s, err := idx.Seek(0, 20)
			require.NoError(t, err)
			for s.Next() {
			}
			assert.ErrorIs(t, s.Error(), ErrCorruption)
			require.NoError(t, s.Close())
		})
	}
}

func TestCheckConsistency_DetectsAsymmetricSiblings(t *testing.T) {
	idx := buildTree(t, SortedLayout, 20)
	second := leafLevel(t, idx)[1]

	corruptPage(t, idx, second.id, func(c pager.PageCursor) {
		require.NoError(t, idx.node.SetLeftSibling(c, NoNode, stableGeneration, unstableGeneration))
	})
	assert.ErrorIs(t, idx.CheckConsistency(), ErrCorruption)
	assert.Len(t, seekAll(t, idx, 0, 20), 20, "scans only follow right siblings")
}

func TestCheckConsistency_DetectsKeyOrder(t *testing.T) {
	for _, kind := range nodeLayouts {
		t.Run(kind.String(), func(t *testing.T) {
			idx := buildTree(t, kind, 20)
			leaf := leafLevel(t, idx)[1]
			require.GreaterOrEqual(t, len(leaf.keys), 2)

			corruptPage(t, idx, leaf.id, func(c pager.PageCursor) {
				idx.node.SetKeyAt(c, leaf.keys[1], 0)
				idx.node.SetKeyAt(c, leaf.keys[0], 1)
			})
			assert.ErrorIs(t, idx.CheckConsistency(), ErrCorruption)
		})
	}
}

func TestCheckConsistency_DetectsKeyOutsideParentRange(t *testing.T) {
	idx := buildTree(t, SortedLayout, 20)
	leaves := leafLevel(t, idx)

	corruptPage(t, idx, leaves[0].id, func(c pager.PageCursor) {
		idx.node.SetKeyAt(c, 1000, len(leaves[0].keys)-1)
	})
	assert.ErrorIs(t, idx.CheckConsistency(), ErrCorruption)
}

func TestCorruptHeaderIsReported(t *testing.T) {
	tests := []struct {
		name  string
		apply func(c pager.PageCursor)
	}{
		{
			name: "key count",
			apply: func(c pager.PageCursor) {
				c.SetOffset(offsetKeyCount)
				c.PutInt(1000)
			},
		},
		{
			name: "node type",
			apply: func(c pager.PageCursor) {
				c.SetOffset(offsetNodeType)
				c.PutByte(9)
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			idx := buildTree(t, SortedLayout, 20)
			first := leafLevel(t, idx)[0]
			corruptPage(t, idx, first.id, tc.apply)

			assert.ErrorIs(t, idx.CheckConsistency(), ErrCorruption)
			_, err := idx.Seek(0, 20)
			assert.ErrorIs(t, err, ErrCorruption)

			w, err := idx.Writer(WriterOptions{})
			require.NoError(t, err)
			defer w.Close()
			assert.ErrorIs(t, w.Insert(0, 0, nil), ErrCorruption)
		})
	}
}
