package bptree

// ValueMerger decides what an insert does when its key is already present.
// It returns the value to store in place of existing and true, or false to
// insert the new entry next to the existing one. A nil ValueMerger always
// inserts.
type ValueMerger[V any] func(existing, value V) (V, bool)

// Overwrite replaces the existing value with the inserted one.
func Overwrite[V any]() ValueMerger[V] {
	return func(_, value V) (V, bool) { return value, true }
}

// KeepExisting leaves the existing value in place.
func KeepExisting[V any]() ValueMerger[V] {
	return func(existing, _ V) (V, bool) { return existing, true }
}
