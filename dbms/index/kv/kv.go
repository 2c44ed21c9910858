// Package kv puts a bptree index with int64 keys and byte values behind the
// common Index interface so it can be benchmarked against Pebble.
package kv

import (
	"github.com/btree-query-bench/gbptree/dbms/index"
	"github.com/btree-query-bench/gbptree/dbms/index/bptree"
	"github.com/btree-query-bench/gbptree/dbms/index/layout"
	"github.com/cockroachdb/errors"
)

// ErrValueTooLarge is returned by Insert for values the layout cannot hold.
var ErrValueTooLarge = errors.New("kv: value too large")

// Options configures Open.
type Options struct {
	// MaxValueSize is fixed when the file is created.
	MaxValueSize int
	Index        bptree.Options
	Writer       bptree.WriterOptions
}

// DefaultOptions returns options for values up to 64 bytes.
func DefaultOptions() Options {
	return Options{
		MaxValueSize: 64,
		Index:        bptree.DefaultOptions(),
	}
}

// Store is a bptree index that keeps the writer for as long as it is open.
// Reads are safe for concurrent use; writes must come from one goroutine at
// a time.
type Store struct {
	tree   *bptree.Index[int64, []byte]
	writer *bptree.Writer[int64, []byte]
	layout layout.Int64Blob
}

var _ index.Index = (*Store)(nil)

// Open opens (or creates) the index file at path.
func Open(path string, opts Options) (*Store, error) {
	l, err := layout.NewInt64Blob(opts.MaxValueSize)
	if err != nil {
		return nil, err
	}
	tree, err := bptree.Open[int64, []byte](path, l, opts.Index)
	if err != nil {
		return nil, errors.Wrapf(err, "kv: open %s", path)
	}
	w, err := tree.Writer(opts.Writer)
	if err != nil {
		_ = tree.Close()
		return nil, err
	}
	return &Store{tree: tree, writer: w, layout: l}, nil
}

// Tree returns the underlying index.
func (s *Store) Tree() *bptree.Index[int64, []byte] {
	return s.tree
}

// Insert inserts key or overwrites its value.
func (s *Store) Insert(key int64, value []byte) error {
	if len(value) > s.layout.MaxValue {
		return errors.Wrapf(ErrValueTooLarge, "%d bytes, limit %d", len(value), s.layout.MaxValue)
	}
	return s.writer.Insert(key, value, bptree.Overwrite[[]byte]())
}

// Get returns the value of key, or nil when key is absent.
func (s *Store) Get(key int64) ([]byte, error) {
	v, ok, err := s.tree.Get(key)
	if err != nil || !ok {
		return nil, err
	}
	return v, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key int64) error {
	_, _, err := s.writer.Remove(key)
	return err
}

// Range iterates the keys in [start, end).
func (s *Store) Range(start, end int64) (index.Iterator, error) {
	it, err := s.tree.Seek(start, end)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Close releases the writer and closes the file.
func (s *Store) Close() error {
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.tree.Close()
}
