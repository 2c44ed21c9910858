package bptree

import (
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
)

// Meta page, page 0:
//
//	[0-3]   int32   tree page size
//	[4-11]  int64   root id
//	[12-19] int64   last allocated id
//	[20-27] int64   layout identifier
//	[28-31] int32   layout major version
//	[32-35] int32   layout minor version
//	[36-]   layout metadata, then one byte node layout kind
const (
	metaPageID  int64 = 0
	firstNodeID int64 = 1

	offsetMetaPageSize   = 0
	offsetMetaRootID     = 4
	offsetMetaLastID     = 12
	offsetMetaLayoutID   = 20
	offsetMetaMajor      = 28
	offsetMetaMinor      = 32
	offsetMetaLayoutData = 36
)

type meta struct {
	pageSize   int
	rootID     int64
	lastID     int64
	layoutID   int64
	major      int32
	minor      int32
	nodeLayout NodeLayoutKind
}

func writeMeta[K, V any](c pager.PageCursor, m meta, layout Layout[K, V]) error {
	if err := c.Next(metaPageID); err != nil {
		return err
	}
	c.SetOffset(offsetMetaPageSize)
	c.PutInt(int32(m.pageSize))
	c.PutLong(m.rootID)
	c.PutLong(m.lastID)
	c.PutLong(m.layoutID)
	c.PutInt(m.major)
	c.PutInt(m.minor)
	layout.WriteMetaData(c)
	c.PutByte(byte(m.nodeLayout))
	if c.CheckAndClearBoundsFlag() {
		return errors.New("bptree: meta data does not fit the meta page")
	}
	return nil
}

// readMeta reads and validates the meta page against layout.
func readMeta[K, V any](c pager.PageCursor, layout Layout[K, V], storagePageSize int) (meta, error) {
	var m meta
	if err := c.Next(metaPageID); err != nil {
		return m, err
	}
	c.SetOffset(offsetMetaPageSize)
	m.pageSize = int(c.GetInt())
	m.rootID = c.GetLong()
	m.lastID = c.GetLong()
	m.layoutID = c.GetLong()
	m.major = c.GetInt()
	m.minor = c.GetInt()

	if m.layoutID != layout.Identifier() || m.major != layout.MajorVersion() || m.minor != layout.MinorVersion() {
		return m, formatMismatchf("file has layout %#x v%d.%d, expected %#x v%d.%d",
			m.layoutID, m.major, m.minor, layout.Identifier(), layout.MajorVersion(), layout.MinorVersion())
	}
	if m.pageSize <= HeaderSize || m.pageSize > storagePageSize {
		return m, formatMismatchf("file page size %d does not fit storage page size %d",
			m.pageSize, storagePageSize)
	}
	if err := layout.ReadMetaData(c); err != nil {
		return m, errors.Wrapf(ErrFormatMismatch, "layout meta data: %v", err)
	}
	m.nodeLayout = NodeLayoutKind(c.GetByte())
	if c.CheckAndClearBoundsFlag() {
		return m, formatMismatchf("meta data overruns the meta page")
	}
	if m.rootID < firstNodeID || m.rootID > m.lastID {
		return m, corruptionf("root id %d outside allocated ids 1..%d", m.rootID, m.lastID)
	}
	return m, nil
}

func writeRootID(c pager.PageCursor, id int64) error {
	if err := c.Next(metaPageID); err != nil {
		return err
	}
	c.SetOffset(offsetMetaRootID)
	c.PutLong(id)
	return nil
}

func writeLastID(c pager.PageCursor, id int64) error {
	if err := c.Next(metaPageID); err != nil {
		return err
	}
	c.SetOffset(offsetMetaLastID)
	c.PutLong(id)
	return nil
}
