// Package lsm wraps Pebble (CockroachDB's LSM storage engine) behind the
// common Index interface so it can be benchmarked alongside the bptree
// index, and serve as a reference in its tests.
package lsm

import (
	"encoding/binary"

	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

type LSM struct {
	db   *pebble.DB
	sync bool
}

// Options configures Open.
type Options struct {
	// MemTableSize is the size of one memtable in bytes.
	MemTableSize uint64
	// Sync makes every write durable before it returns.
	Sync bool
	// InMemory keeps all files in memory; the directory is only a name.
	InMemory bool
}

// DefaultOptions returns the options the benchmark uses.
func DefaultOptions() Options {
	return Options{MemTableSize: 16 << 20}
}

// Open opens (or creates) a Pebble database at the given directory path.
func Open(dir string, o Options) (*LSM, error) {
	opts := &pebble.Options{
		MemTableSize: o.MemTableSize,
		// Keep several memtables so one can be flushed while another is active.
		MemTableStopWritesThreshold: 4,
		// L0 compaction trigger.
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
	}
	if o.InMemory {
		opts.FS = vfs.NewMem()
	}

	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrap(err, "lsm: open")
	}
	return &LSM{db: db, sync: o.Sync}, nil
}

func (l *LSM) writeOptions() *pebble.WriteOptions {
	if l.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Close cleanly shuts down Pebble, flushing any in-memory state.
func (l *LSM) Close() error {
	return l.db.Close()
}

// Insert inserts or updates the value for key.
func (l *LSM) Insert(key int64, value []byte) error {
	return l.db.Set(encodeKey(key), value, l.writeOptions())
}

// Get retrieves the value for key. Returns nil if not found.
func (l *LSM) Get(key int64) ([]byte, error) {
	val, closer, err := l.db.Get(encodeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lsm: get")
	}
	// val is only valid until closer.Close(), so we copy it.
	result := make([]byte, len(val))
	copy(result, val)
	closer.Close()
	return result, nil
}

// Delete removes the key from the store.
func (l *LSM) Delete(key int64) error {
	if err := l.db.Delete(encodeKey(key), l.writeOptions()); err != nil {
		return errors.Wrap(err, "lsm: delete")
	}
	return nil
}

// Range returns an iterator over all keys in [start, end).
func (l *LSM) Range(start, end int64) (index.Iterator, error) {
	if start >= end {
		return &rangeIterator{}, nil
	}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: encodeKey(start),
		UpperBound: encodeKey(end),
	})
	if err != nil {
		return nil, errors.Wrap(err, "lsm: range")
	}
	iter.First()
	return &rangeIterator{iter: iter, first: true}, nil
}

// ─── Key encoding ─────────────────────────────────────────────────────────────

// encodeKey encodes an int64 as a big-endian 8-byte slice with the sign bit
// flipped, so byte order matches numeric order for negative keys too.
func encodeKey(k int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k)^(1<<63))
	return b
}

func decodeKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

// ─── Range Iterator ───────────────────────────────────────────────────────────

type rangeIterator struct {
	iter  *pebble.Iterator
	first bool
	key   int64
	val   []byte
	err   error
}

func (it *rangeIterator) Next() bool {
	if it.iter == nil || it.err != nil {
		return false
	}
	var valid bool
	if it.first {
		// iter.First() was already called in Range(); just check validity.
		it.first = false
		valid = it.iter.Valid()
	} else {
		valid = it.iter.Next()
	}
	if !valid {
		return false
	}
	k := it.iter.Key()
	if len(k) != 8 {
		it.err = errors.Newf("lsm: unexpected key length %d", len(k))
		return false
	}
	it.key = decodeKey(k)
	// Copy value, Pebble reuses the buffer on Next().
	v := it.iter.Value()
	it.val = make([]byte, len(v))
	copy(it.val, v)
	return true
}

func (it *rangeIterator) Key() int64    { return it.key }
func (it *rangeIterator) Value() []byte { return it.val }

func (it *rangeIterator) Error() error {
	if it.err != nil || it.iter == nil {
		return it.err
	}
	return it.iter.Error()
}

func (it *rangeIterator) Close() error {
	if it.iter == nil {
		return nil
	}
	return it.iter.Close()
}
