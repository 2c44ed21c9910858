// Package pager manages a file of fixed-size pages behind an LRU page cache
// and hands out page cursors over them.
//
// Two cursor kinds exist. A write cursor takes the page's write lock while it
// is positioned on the page, so every change it makes to one page becomes
// visible to readers as a unit. A read cursor never blocks: it reads
// optimistically and asks ShouldRetry afterwards, which reports whether a
// writer held or released the page since the cursor's last check.
package pager

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	DefaultPageSize   = 4096 // 4 KB, matches OS page size
	DefaultCachePages = 1024
	MinPageSize       = 64
)

var (
	ErrClosed        = errors.New("pager: closed")
	ErrInvalidPageID = errors.New("pager: invalid page id")
)

// Options configures a Pager.
type Options struct {
	// PageSize is the size of every page in the file.
	PageSize int
	// CachePages is the number of pages the LRU cache tries to keep. Pinned
	// pages are never evicted, so the cache can temporarily exceed it.
	CachePages int
	// SyncOnFlush fsyncs the file at the end of every Flush.
	SyncOnFlush bool
	Logger      *zap.Logger
}

// DefaultOptions returns the default pager options.
func DefaultOptions() Options {
	return Options{
		PageSize:    DefaultPageSize,
		CachePages:  DefaultCachePages,
		SyncOnFlush: true,
	}
}

func (o *Options) validate() error {
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.PageSize < MinPageSize {
		return errors.Newf("pager: page size %d below minimum %d", o.PageSize, MinPageSize)
	}
	if o.CachePages <= 0 {
		o.CachePages = DefaultCachePages
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// page is one cached page. data is guarded by mu for the duration of a
// single access; writeMu is held by the write cursor positioned on the page
// and seq is odd for exactly that long.
type page struct {
	id      int64
	data    []byte
	mu      sync.RWMutex
	writeMu sync.Mutex
	seq     atomic.Uint64
	pins    atomic.Int32
	dirty   atomic.Bool
}

// Pager manages a file of fixed-size pages and caches recently used ones.
type Pager struct {
	file     *os.File
	path     string
	pageSize int
	sync     bool
	logger   *zap.Logger

	mu        sync.Mutex
	cache     *lruCache
	highWater int64
	closed    bool
}

// Exists reports whether path holds a non-empty file. An empty file is what
// a crash before the first flush leaves behind, so it counts as absent.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Open opens (or creates) a pager backed by the given file.
func Open(path string, opts Options) (*Pager, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "pager open")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "pager stat")
	}

	p := &Pager{
		file:      f,
		path:      path,
		pageSize:  opts.PageSize,
		sync:      opts.SyncOnFlush,
		logger:    opts.Logger.With(zap.String("file", path)),
		cache:     newLRUCache(opts.CachePages),
		highWater: info.Size()/int64(opts.PageSize) - 1,
	}
	p.logger.Debug("pager opened",
		zap.Int("page_size", p.pageSize),
		zap.Int("cache_pages", opts.CachePages),
		zap.Int64("pages", p.highWater+1))
	return p, nil
}

// PageSize returns the size of every page in the file.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Path returns the path of the backing file.
func (p *Pager) Path() string {
	return p.path
}

// PageCount returns the number of pages ever touched, on disk or in cache.
func (p *Pager) PageCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highWater + 1
}

// ReadCursor returns an optimistic read cursor. It is not positioned on any
// page until Next is called.
func (p *Pager) ReadCursor() PageCursor {
	return &cursor{pager: p}
}

// WriteCursor returns an exclusive write cursor. It is not positioned on any
// page until Next is called.
func (p *Pager) WriteCursor() PageCursor {
	return &cursor{pager: p, write: true}
}

// Flush writes every dirty cached page back to disk.
func (p *Pager) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.flushLocked()
}

func (p *Pager) flushLocked() error {
	var flushed int
	for _, e := range p.cache.items {
		if !e.page.dirty.Load() {
			continue
		}
		if err := p.writePageToDisk(e.page); err != nil {
			return err
		}
		flushed++
	}
	if p.sync {
		if err := p.file.Sync(); err != nil {
			return errors.Wrap(err, "pager sync")
		}
	}
	p.logger.Debug("pager flushed", zap.Int("pages", flushed))
	return nil
}

// Close flushes and closes the underlying file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	err := p.flushLocked()
	p.closed = true
	if cerr := p.file.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "pager close")
	}
	return err
}

// --- internal helpers ---

// pin returns the cached page for id, loading it if needed, with its pin
// count raised so eviction leaves it alone.
func (p *Pager) pin(id int64) (*page, error) {
	if id < 0 {
		return nil, errors.Wrapf(ErrInvalidPageID, "page %d", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if pg := p.cache.get(id); pg != nil {
		pg.pins.Add(1)
		return pg, nil
	}
	pg, err := p.readPageFromDisk(id)
	if err != nil {
		return nil, err
	}
	pg.pins.Add(1)
	p.cache.put(pg)
	if id > p.highWater {
		p.highWater = id
	}
	p.evictLocked()
	return pg, nil
}

func (p *Pager) unpin(pg *page) {
	pg.pins.Add(-1)
}

// evictLocked drops least recently used unpinned pages until the cache is
// back within capacity, writing dirty ones back first.
func (p *Pager) evictLocked() {
	for e := p.cache.tail; e != nil && len(p.cache.items) > p.cache.cap; {
		prev := e.prev
		if e.page.pins.Load() == 0 {
			if e.page.dirty.Load() {
				if err := p.writePageToDisk(e.page); err != nil {
					p.logger.Warn("pager write-back failed", zap.Int64("page", e.id), zap.Error(err))
					e = prev
					continue
				}
			}
			p.cache.remove(e)
		}
		e = prev
	}
}

func (p *Pager) offset(id int64) int64 {
	return id * int64(p.pageSize)
}

func (p *Pager) readPageFromDisk(id int64) (*page, error) {
	pg := &page{id: id, data: make([]byte, p.pageSize)}
	_, err := p.file.ReadAt(pg.data, p.offset(id))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrapf(err, "pager: read page %d", id)
	}
	return pg, nil
}

func (p *Pager) writePageToDisk(pg *page) error {
	buf := make([]byte, p.pageSize)
	pg.mu.RLock()
	pg.dirty.Store(false)
	copy(buf, pg.data)
	pg.mu.RUnlock()
	if _, err := p.file.WriteAt(buf, p.offset(pg.id)); err != nil {
		pg.dirty.Store(true)
		return errors.Wrapf(err, "pager: write page %d", pg.id)
	}
	return nil
}

// ─── LRU Cache ────────────────────────────────────────────────────────────────

type lruEntry struct {
	id   int64
	page *page
	prev *lruEntry
	next *lruEntry
}

type lruCache struct {
	cap   int
	items map[int64]*lruEntry
	head  *lruEntry // most recent
	tail  *lruEntry // least recent
}

func newLRUCache(cap int) *lruCache {
	return &lruCache{
		cap:   cap,
		items: make(map[int64]*lruEntry, cap),
	}
}

func (c *lruCache) get(id int64) *page {
	e, ok := c.items[id]
	if !ok {
		return nil
	}
	c.moveToFront(e)
	return e.page
}

func (c *lruCache) put(pg *page) {
	if e, ok := c.items[pg.id]; ok {
		e.page = pg
		c.moveToFront(e)
		return
	}
	e := &lruEntry{id: pg.id, page: pg}
	c.items[pg.id] = e
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *lruEntry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) moveToFront(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) unlink(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if c.head == e {
		c.head = e.next
	}
	if c.tail == e {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *lruCache) remove(e *lruEntry) {
	c.unlink(e)
	delete(c.items, e.id)
}
