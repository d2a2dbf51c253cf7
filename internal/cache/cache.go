package cache

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
	"github.com/pkg/errors"

	"github.com/alexhholmes/blockriver/internal/base"
	"github.com/alexhholmes/blockriver/internal/storage"
)

const (
	MinCacheSize = 4 // Minimum: a node, its parent, a sibling and a child
)

// Codec converts between records and decoded pages
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) (T, error)
}

// Cache is a bounded LRU of decoded pages on top of a record file.
//
// Dirty pages are detected by value: the xxhash of a page's encoding is
// remembered when it is read or written, and a page is written back only if
// its current encoding hashes differently (or it was never written).
//
// Pages handed out by Get stay pinned until Release, so callers may hold
// several pointers during one operation even when the working set exceeds
// the capacity. A pinned page that falls out of the LRU is written back at
// eviction and again at Release if it changed in between.
type Cache[T any] struct {
	file  *storage.File
	codec Codec[T]
	lru   *freelru.LRU[base.PageID, *entry[T]]
	pins  map[base.PageID]*entry[T]

	readBuf  []byte
	writeBuf []byte

	err     error // first write-back failure seen during an eviction
	discard bool  // drop evicted pages without writing

	// stats
	hits       uint64
	misses     uint64
	evictions  uint64
	writeBacks uint64
}

// entry is one cached page
type entry[T any] struct {
	id       base.PageID
	val      T
	sum      uint64 // fingerprint of the bytes last read or written
	fresh    bool   // never written to the file
	resident bool   // present in the LRU
}

func hashPageID(id base.PageID) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return uint32(xxhash.Sum64(b[:]))
}

// New creates a cache holding at most capacity pages of file
func New[T any](file *storage.File, codec Codec[T], capacity int) (*Cache[T], error) {
	if codec.Size() != file.RecordSize() {
		return nil, errors.Errorf("%s: page size %d does not match record size %d",
			file.Path(), codec.Size(), file.RecordSize())
	}
	capacity = max(capacity, MinCacheSize)

	lru, err := freelru.New[base.PageID, *entry[T]](uint32(capacity), hashPageID)
	if err != nil {
		return nil, errors.Wrap(err, "create page cache")
	}

	c := &Cache[T]{
		file:     file,
		codec:    codec,
		lru:      lru,
		pins:     make(map[base.PageID]*entry[T]),
		readBuf:  make([]byte, codec.Size()),
		writeBuf: make([]byte, codec.Size()),
	}
	lru.SetOnEvict(c.onEvict)

	return c, nil
}

func (c *Cache[T]) onEvict(_ base.PageID, e *entry[T]) {
	if c.discard || !e.resident {
		return
	}

	e.resident = false
	c.evictions++
	if err := c.writeBack(e); err != nil && c.err == nil {
		c.err = err
	}
}

// insert makes e the most recently used page, evicting the least recently
// used one if the cache is full.
func (c *Cache[T]) insert(e *entry[T]) {
	e.resident = true
	c.lru.Add(e.id, e)
}

func (c *Cache[T]) pin(e *entry[T]) {
	c.pins[e.id] = e
}

// takeErr returns and clears a pending eviction failure
func (c *Cache[T]) takeErr() error {
	err := c.err
	c.err = nil
	return err
}

// Get returns the page with the given id, loading it on a miss. The returned
// value may be mutated in place; changes reach the file on eviction, Release
// of an evicted page, Flush or Close.
func (c *Cache[T]) Get(id base.PageID) (T, error) {
	var zero T

	if e, ok := c.lru.Get(id); ok {
		c.hits++
		c.pin(e)
		return e.val, c.takeErr()
	}

	// Evicted earlier in this operation but still referenced by the caller
	if e, ok := c.pins[id]; ok {
		c.hits++
		c.insert(e)
		return e.val, c.takeErr()
	}

	c.misses++
	if err := c.file.Read(id, c.readBuf); err != nil {
		return zero, err
	}
	v, err := c.codec.Decode(c.readBuf)
	if err != nil {
		return zero, errors.Wrapf(err, "%s: decode page %d", c.file.Path(), id)
	}

	e := &entry[T]{id: id, val: v, sum: xxhash.Sum64(c.readBuf)}
	c.insert(e)
	c.pin(e)
	return v, c.takeErr()
}

// Put caches v as page id, replacing whatever was cached for id. The page is
// treated as dirty until it is written.
func (c *Cache[T]) Put(id base.PageID, v T) {
	if e, ok := c.lru.Get(id); ok {
		e.val = v
		e.fresh = true
		c.pin(e)
		return
	}

	e := &entry[T]{id: id, val: v, fresh: true}
	if old, ok := c.pins[id]; ok {
		e = old
		e.val = v
		e.fresh = true
	}
	c.insert(e)
	c.pin(e)
}

// writeBack writes e to the file if its encoding changed
func (c *Cache[T]) writeBack(e *entry[T]) error {
	c.codec.Encode(c.writeBuf, e.val)
	sum := xxhash.Sum64(c.writeBuf)
	if !e.fresh && sum == e.sum {
		return nil
	}

	if err := c.file.Write(e.id, c.writeBuf); err != nil {
		return err
	}
	e.sum = sum
	e.fresh = false
	c.writeBacks++
	return nil
}

// Release unpins every page handed out since the last Release, writing back
// pinned pages that were evicted in the meantime.
func (c *Cache[T]) Release() error {
	err := c.takeErr()
	for id, e := range c.pins {
		if !e.resident {
			if werr := c.writeBack(e); werr != nil && err == nil {
				err = werr
			}
		}
		delete(c.pins, id)
	}
	return err
}

// Flush writes every dirty page to the file. Pages stay cached.
func (c *Cache[T]) Flush() error {
	err := c.takeErr()
	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Peek(id)
		if !ok {
			continue
		}
		if werr := c.writeBack(e); werr != nil && err == nil {
			err = werr
		}
	}
	for _, e := range c.pins {
		if e.resident {
			continue
		}
		if werr := c.writeBack(e); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// Reset drops every cached page without writing it
func (c *Cache[T]) Reset() {
	c.discard = true
	c.lru.Purge()
	c.discard = false

	clear(c.pins)
	c.err = nil
}

// Close flushes every dirty page and empties the cache
func (c *Cache[T]) Close() error {
	err := c.Flush()
	c.Reset()
	return err
}

// Len returns the number of resident pages
func (c *Cache[T]) Len() int {
	return c.lru.Len()
}

type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

// Stats returns cache statistics
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		WriteBacks: c.writeBacks,
	}
}
