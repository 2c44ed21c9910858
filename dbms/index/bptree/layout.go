package bptree

import "github.com/btree-query-bench/gbptree/dbms/pager"

// Layout describes how fixed-size keys and values are compared and stored.
type Layout[K, V any] interface {
	KeySize() int
	ValueSize() int
	Compare(a, b K) int

	ReadKey(c pager.PageCursor) K
	WriteKey(c pager.PageCursor, key K)
	ReadValue(c pager.PageCursor) V
	WriteValue(c pager.PageCursor, value V)

	// Identifier and the version pair are stored on the meta page at
	// create and must match exactly on open.
	Identifier() int64
	MajorVersion() int32
	MinorVersion() int32

	// WriteMetaData is called once at create, ReadMetaData once at open.
	WriteMetaData(c pager.PageCursor)
	ReadMetaData(c pager.PageCursor) error
}
