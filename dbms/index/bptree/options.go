package bptree

import (
	"github.com/btree-query-bench/gbptree/dbms/pager"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultSplitLeftFraction = 0.5

	// Every pointer is written at the unstable generation and read back as
	// valid; generations do not advance.
	stableGeneration   uint32 = 1
	unstableGeneration uint32 = 2
)

// Options configures Open.
type Options struct {
	// StoragePageSize is the page size of the backing file.
	StoragePageSize int
	// PageSize is the tentative tree node size used when the file is
	// created. Zero means StoragePageSize. It must not exceed
	// StoragePageSize. On open the stored value is used.
	PageSize int
	// CachePages bounds the page cache.
	CachePages int
	// NodeLayout is used when the file is created. On open the stored
	// layout is used.
	NodeLayout NodeLayoutKind
	// Name labels the metrics. Empty means the base name of the file.
	Name       string
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// DefaultOptions returns options for a 4 KB sorted-layout index.
func DefaultOptions() Options {
	return Options{
		StoragePageSize: pager.DefaultPageSize,
		CachePages:      pager.DefaultCachePages,
		NodeLayout:      SortedLayout,
	}
}

func (o *Options) validate() error {
	if o.StoragePageSize == 0 {
		o.StoragePageSize = pager.DefaultPageSize
	}
	if o.PageSize == 0 {
		o.PageSize = o.StoragePageSize
	}
	if o.PageSize > o.StoragePageSize {
		return errors.Newf("bptree: page size %d exceeds storage page size %d", o.PageSize, o.StoragePageSize)
	}
	if o.CachePages == 0 {
		o.CachePages = pager.DefaultCachePages
	}
	if o.NodeLayout == 0 {
		o.NodeLayout = SortedLayout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// WriterOptions configures a writer acquisition.
type WriterOptions struct {
	// SplitLeftFraction is the share of entries a splitting node keeps.
	// Zero means DefaultSplitLeftFraction.
	SplitLeftFraction float64
}

func (o *WriterOptions) validate() error {
	if o.SplitLeftFraction == 0 {
		o.SplitLeftFraction = DefaultSplitLeftFraction
	}
	if o.SplitLeftFraction <= 0 || o.SplitLeftFraction >= 1 {
		return errors.Newf("bptree: split left fraction %v outside (0, 1)", o.SplitLeftFraction)
	}
	return nil
}
