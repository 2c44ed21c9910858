// Package index defines the engine-neutral interface the benchmark drives.
package index

// Index is the common interface for all engines.
type Index interface {
	// Insert inserts key or replaces its value.
	Insert(key int64, value []byte) error
	// Get returns the value of key, or nil when key is absent.
	Get(key int64) ([]byte, error)
	Delete(key int64) error
	// Range iterates the keys in [start, end) in ascending order.
	Range(start, end int64) (Iterator, error)
	Close() error
}

// Iterator allows scanning over a range of key-value pairs.
type Iterator interface {
	Next() bool
	Key() int64
	Value() []byte
	Error() error
	Close() error
}
