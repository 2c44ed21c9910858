// Package layout provides key/value encodings for bptree indexes.
package layout

import (
	"bytes"
	"cmp"

	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// NamedIdentifier builds a layout identifier from a name and a checksum of
// the layout's parameters: the high 32 bits come from a hash of the name.
func NamedIdentifier(name string, checksum int32) int64 {
	return int64(xxhash.Sum64String(name)&^0xFFFFFFFF) | int64(uint32(checksum))
}

// ─── Int64 ────────────────────────────────────────────────────────────────────

// Int64 stores int64 keys and int64 values.
type Int64 struct{}

var int64Identifier = NamedIdentifier("int64", 8<<8|8)

func (Int64) KeySize() int { return 8 }
func (Int64) ValueSize() int { return 8 }
func (Int64) Compare(a, b int64) int { return cmp.Compare(a, b) }
func (Int64) ReadKey(c pager.PageCursor) int64 { return c.GetLong() }
func (Int64) WriteKey(c pager.PageCursor, k int64) { c.PutLong(k) }
func (Int64) ReadValue(c pager.PageCursor) int64 { return c.GetLong() }
func (Int64) WriteValue(c pager.PageCursor, v int64) { c.PutLong(v) }
func (Int64) Identifier() int64 { return int64Identifier }
func (Int64) MajorVersion() int32 { return 0 }
func (Int64) MinorVersion() int32 { return 1 }
func (Int64) WriteMetaData(pager.PageCursor) {}
func (Int64) ReadMetaData(pager.PageCursor) error { return nil }

// ─── Int64Blob ────────────────────────────────────────────────────────────────

// Int64Blob stores int64 keys and byte values of at most MaxValue bytes.
// A value slot is a uint16 length followed by MaxValue bytes.
type Int64Blob struct {
	MaxValue int
}

// NewInt64Blob returns an Int64Blob layout for values up to maxValue bytes.
func NewInt64Blob(maxValue int) (Int64Blob, error) {
	if maxValue <= 0 || maxValue > 0xFFFF {
		return Int64Blob{}, errors.Newf("layout: max value size %d outside 1..65535", maxValue)
	}
	return Int64Blob{MaxValue: maxValue}, nil
}

func (l Int64Blob) KeySize() int { return 8 }
func (l Int64Blob) ValueSize() int { return 2 + l.MaxValue }
func (l Int64Blob) Compare(a, b int64) int { return cmp.Compare(a, b) }
func (l Int64Blob) ReadKey(c pager.PageCursor) int64 { return c.GetLong() }
func (l Int64Blob) WriteKey(c pager.PageCursor, k int64) { c.PutLong(k) }

func (l Int64Blob) ReadValue(c pager.PageCursor) []byte {
	n := int(uint16(c.GetShort()))
	if n > l.MaxValue {
		// Torn read; the caller retries.
		n = l.MaxValue
	}
	v := make([]byte, n)
	c.GetBytes(v)
	return v
}

// WriteValue stores v, truncated to MaxValue bytes.
func (l Int64Blob) WriteValue(c pager.PageCursor, v []byte) {
	if len(v) > l.MaxValue {
		v = v[:l.MaxValue]
	}
	c.PutShort(int16(uint16(len(v))))
	c.PutBytes(v)
}

func (l Int64Blob) Identifier() int64 { return NamedIdentifier("int64-blob", 8<<8|2) }
func (l Int64Blob) MajorVersion() int32 { return 0 }
func (l Int64Blob) MinorVersion() int32 { return 1 }

func (l Int64Blob) WriteMetaData(c pager.PageCursor) {
	c.PutInt(int32(l.MaxValue))
}

func (l Int64Blob) ReadMetaData(c pager.PageCursor) error {
	if stored := int(c.GetInt()); stored != l.MaxValue {
		return errors.Newf("layout: file stores values up to %d bytes, layout expects %d", stored, l.MaxValue)
	}
	return nil
}

// ─── FixedBytes ───────────────────────────────────────────────────────────────

// FixedBytes stores byte keys and values of fixed widths, ordered
// lexicographically. Shorter inputs are zero padded, longer ones truncated.
type FixedBytes struct {
	KeyWidth   int
	ValueWidth int
}

// NewFixedBytes returns a FixedBytes layout.
func NewFixedBytes(keyWidth, valueWidth int) (FixedBytes, error) {
	if keyWidth <= 0 || valueWidth < 0 {
		return FixedBytes{}, errors.Newf("layout: invalid widths key=%d value=%d", keyWidth, valueWidth)
	}
	return FixedBytes{KeyWidth: keyWidth, ValueWidth: valueWidth}, nil
}

func (l FixedBytes) KeySize() int { return l.KeyWidth }
func (l FixedBytes) ValueSize() int { return l.ValueWidth }
func (l FixedBytes) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (l FixedBytes) ReadKey(c pager.PageCursor) []byte {
	return readFixed(c, l.KeyWidth)
}
func (l FixedBytes) WriteKey(c pager.PageCursor, k []byte) {
	writeFixed(c, k, l.KeyWidth)
}
func (l FixedBytes) ReadValue(c pager.PageCursor) []byte {
	return readFixed(c, l.ValueWidth)
}
func (l FixedBytes) WriteValue(c pager.PageCursor, v []byte) {
	writeFixed(c, v, l.ValueWidth)
}

// Key pads or truncates k to the key width, so it compares like a stored key.
func (l FixedBytes) Key(k []byte) []byte {
	out := make([]byte, l.KeyWidth)
	copy(out, k)
	return out
}

func (l FixedBytes) Identifier() int64 { return NamedIdentifier("fixed-bytes", 0) }
func (l FixedBytes) MajorVersion() int32 { return 0 }
func (l FixedBytes) MinorVersion() int32 { return 1 }

func (l FixedBytes) WriteMetaData(c pager.PageCursor) {
	c.PutInt(int32(l.KeyWidth))
	c.PutInt(int32(l.ValueWidth))
}

func (l FixedBytes) ReadMetaData(c pager.PageCursor) error {
	keyWidth, valueWidth := int(c.GetInt()), int(c.GetInt())
	if keyWidth != l.KeyWidth || valueWidth != l.ValueWidth {
		return errors.Newf("layout: file stores widths key=%d value=%d, layout expects key=%d value=%d",
			keyWidth, valueWidth, l.KeyWidth, l.ValueWidth)
	}
	return nil
}

func readFixed(c pager.PageCursor, width int) []byte {
	b := make([]byte, width)
	c.GetBytes(b)
	return b
}

func writeFixed(c pager.PageCursor, b []byte, width int) {
	if len(b) >= width {
		c.PutBytes(b[:width])
		return
	}
	padded := make([]byte, width)
	copy(padded, b)
	c.PutBytes(padded)
}
