package pager

import (
	"encoding/binary"
	"runtime"

	"github.com/cockroachdb/errors"
)

// PageCursor is a positioned view over one page at a time. All multi-byte
// values are little-endian. Accesses outside the page never panic; they set
// the bounds flag and read as zero.
type PageCursor interface {
	// Next moves the cursor to the start of page id.
	Next(id int64) error
	CurrentPageID() int64
	Offset() int
	SetOffset(offset int)

	GetByte() byte
	PutByte(v byte)
	GetShort() int16
	PutShort(v int16)
	GetInt() int32
	PutInt(v int32)
	GetLong() int64
	PutLong(v int64)
	GetBytes(dst []byte)
	PutBytes(src []byte)

	// ShouldRetry reports whether a writer touched the current page since
	// the last Next or ShouldRetry call. Reads done in between must then be
	// redone. It always returns false for write cursors.
	ShouldRetry() bool
	// CheckAndClearBoundsFlag reports whether an access fell outside the
	// page since the flag was last cleared.
	CheckAndClearBoundsFlag() bool
	// Close releases the current page.
	Close()
}

type cursor struct {
	pager       *Pager
	write       bool
	page        *page
	offset      int
	seq         uint64
	outOfBounds bool
}

func (c *cursor) Next(id int64) error {
	pg, err := c.pager.pin(id)
	if err != nil {
		return err
	}
	c.release()
	c.page = pg
	c.offset = 0
	c.outOfBounds = false
	if c.write {
		pg.writeMu.Lock()
		pg.seq.Add(1)
		return nil
	}
	c.seq = pg.seq.Load()
	return nil
}

func (c *cursor) release() {
	if c.page == nil {
		return
	}
	if c.write {
		c.page.seq.Add(1)
		c.page.writeMu.Unlock()
	}
	c.pager.unpin(c.page)
	c.page = nil
}

func (c *cursor) CurrentPageID() int64 {
	if c.page == nil {
		return -1
	}
	return c.page.id
}

func (c *cursor) Offset() int {
	return c.offset
}

func (c *cursor) SetOffset(offset int) {
	c.offset = offset
}

func (c *cursor) ShouldRetry() bool {
	if c.write || c.page == nil {
		return false
	}
	seq := c.page.seq.Load()
	if seq == c.seq && seq%2 == 0 {
		return false
	}
	if seq%2 == 1 {
		// A writer is on the page; let it make progress.
		runtime.Gosched()
	}
	c.seq = seq
	c.outOfBounds = false
	return true
}

func (c *cursor) CheckAndClearBoundsFlag() bool {
	v := c.outOfBounds
	c.outOfBounds = false
	return v
}

func (c *cursor) Close() {
	c.release()
}

// --- accessors ---

// span returns the data window for an n-byte access at the current offset,
// or nil after raising the bounds flag.
func (c *cursor) span(n int) []byte {
	if c.page == nil || c.offset < 0 || c.offset+n > len(c.page.data) {
		c.outOfBounds = true
		return nil
	}
	return c.page.data[c.offset : c.offset+n]
}

func (c *cursor) mustWrite() {
	if !c.write {
		panic(errors.AssertionFailedf("pager: write through a read cursor"))
	}
}

func (c *cursor) GetByte() byte {
	b := c.span(1)
	if b == nil {
		return 0
	}
	c.page.mu.RLock()
	v := b[0]
	c.page.mu.RUnlock()
	c.offset++
	return v
}

func (c *cursor) PutByte(v byte) {
	c.mustWrite()
	b := c.span(1)
	if b == nil {
		return
	}
	c.page.mu.Lock()
	b[0] = v
	c.page.mu.Unlock()
	c.page.dirty.Store(true)
	c.offset++
}

func (c *cursor) GetShort() int16 {
	b := c.span(2)
	if b == nil {
		return 0
	}
	c.page.mu.RLock()
	v := binary.LittleEndian.Uint16(b)
	c.page.mu.RUnlock()
	c.offset += 2
	return int16(v)
}

func (c *cursor) PutShort(v int16) {
	c.mustWrite()
	b := c.span(2)
	if b == nil {
		return
	}
	c.page.mu.Lock()
	binary.LittleEndian.PutUint16(b, uint16(v))
	c.page.mu.Unlock()
	c.page.dirty.Store(true)
	c.offset += 2
}

func (c *cursor) GetInt() int32 {
	b := c.span(4)
	if b == nil {
		return 0
	}
	c.page.mu.RLock()
	v := binary.LittleEndian.Uint32(b)
	c.page.mu.RUnlock()
	c.offset += 4
	return int32(v)
}

func (c *cursor) PutInt(v int32) {
	c.mustWrite()
	b := c.span(4)
	if b == nil {
		return
	}
	c.page.mu.Lock()
	binary.LittleEndian.PutUint32(b, uint32(v))
	c.page.mu.Unlock()
	c.page.dirty.Store(true)
	c.offset += 4
}

func (c *cursor) GetLong() int64 {
	b := c.span(8)
	if b == nil {
		return 0
	}
	c.page.mu.RLock()
	v := binary.LittleEndian.Uint64(b)
	c.page.mu.RUnlock()
	c.offset += 8
	return int64(v)
}

func (c *cursor) PutLong(v int64) {
	c.mustWrite()
	b := c.span(8)
	if b == nil {
		return
	}
	c.page.mu.Lock()
	binary.LittleEndian.PutUint64(b, uint64(v))
	c.page.mu.Unlock()
	c.page.dirty.Store(true)
	c.offset += 8
}

func (c *cursor) GetBytes(dst []byte) {
	b := c.span(len(dst))
	if b == nil {
		clear(dst)
		return
	}
	c.page.mu.RLock()
	copy(dst, b)
	c.page.mu.RUnlock()
	c.offset += len(dst)
}

func (c *cursor) PutBytes(src []byte) {
	c.mustWrite()
	b := c.span(len(src))
	if b == nil {
		return
	}
	c.page.mu.Lock()
	copy(b, src)
	c.page.mu.Unlock()
	c.page.dirty.Store(true)
	c.offset += len(src)
}
