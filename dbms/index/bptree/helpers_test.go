package bptree

import (
	"path/filepath"
	"testing"

	"github.com/btree-query-bench/gbptree/dbms/index/layout"
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/stretchr/testify/require"
)

// smallPage gives int64 layouts leafMax=4 and internalMax=1 in both node
// layouts.
const smallPage = 128

var nodeLayouts = []NodeLayoutKind{SortedLayout, IndirectLayout}

func openPager(t *testing.T, pageSize int) *pager.Pager {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "pages.db"), pager.Options{PageSize: pageSize, CachePages: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// writeCursorOn returns a write cursor positioned on page id of a fresh pager.
func writeCursorOn(t *testing.T, pageSize int, id int64) pager.PageCursor {
	t.Helper()
	c := openPager(t, pageSize).WriteCursor()
	require.NoError(t, c.Next(id))
	t.Cleanup(c.Close)
	return c
}

func openIndex(t *testing.T, opts Options) (*Index[int64, int64], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.gbp")
	idx, err := Open[int64, int64](path, layout.Int64{}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func smallOptions(kind NodeLayoutKind) Options {
	return Options{StoragePageSize: smallPage, CachePages: 32, NodeLayout: kind}
}

func acquireWriter(t *testing.T, idx *Index[int64, int64]) *Writer[int64, int64] {
	t.Helper()
	w, err := idx.Writer(WriterOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// leafLevel returns the snapshots of all leaves, following right siblings
// from the leftmost leaf.
func leafLevel(t *testing.T, idx *Index[int64, int64]) []nodeSnapshot[int64, int64] {
	t.Helper()
	c := idx.pager.ReadCursor()
	defer c.Close()

	id := idx.RootID()
	for {
		s, err := idx.readSnapshot(c, id)
		require.NoError(t, err)
		if s.leaf {
			break
		}
		id = s.children[0]
	}

	var leaves []nodeSnapshot[int64, int64]
	for id != NoNode {
		s, err := idx.readSnapshot(c, id)
		require.NoError(t, err)
		leaves = append(leaves, s)
		id = s.right
	}
	return leaves
}

func collect(t *testing.T, s *SeekCursor[int64, int64]) []int64 {
	t.Helper()
	defer s.Close()
	var keys []int64
	for s.Next() {
		keys = append(keys, s.Key())
	}
	require.NoError(t, s.Error())
	return keys
}

func seekAll(t *testing.T, idx *Index[int64, int64], from, to int64) []int64 {
	t.Helper()
	s, err := idx.Seek(from, to)
	require.NoError(t, err)
	return collect(t, s)
}
