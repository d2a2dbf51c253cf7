package blockriver

import (
	"fmt"
	"io"

	"go.uber.org/multierr"

	"github.com/alexhholmes/blockriver/codec"
	"github.com/alexhholmes/blockriver/internal/base"
	"github.com/alexhholmes/blockriver/internal/cache"
	"github.com/alexhholmes/blockriver/internal/prefetch"
	"github.com/alexhholmes/blockriver/internal/storage"
)

// IndexSuffix is appended to a store's path to name its index file
const IndexSuffix = ".idx"

// Status is the outcome of a Store mutation
type Status int

const (
	StatusOK       Status = iota // the store changed
	StatusExists                 // the pair was already present
	StatusNotFound               // the pair was absent
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExists:
		return "exists"
	case StatusNotFound:
		return "not found"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Store is a two-tier ordered set of (Key, Value) pairs: sorted data blocks
// of fixed capacity in one file, and a sparse b+ tree index in a second file
// that registers every non-empty block under its maximum entry.
//
// A Store is not safe for concurrent use.
type Store[K, V any] struct {
	index  *BTree[K, V]
	file   *storage.File
	cache  *cache.Cache[*base.Block[K, V]]
	ahead  *prefetch.Prefetcher
	order  base.Order[K, V]
	layout base.BlockLayout[K, V]
	zero   []byte

	opts   Options
	log    Logger
	closed bool
}

// Open opens the store whose blocks live at path and whose index lives at
// path+IndexSuffix, creating both files if missing.
func Open[K, V any](path string, keys codec.Codec[K], values codec.Codec[V], opts ...Option) (*Store[K, V], error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	order := base.Order[K, V]{Keys: keys, Values: values}
	index, err := openBTree(path+IndexSuffix, order, o)
	if err != nil {
		return nil, err
	}

	layout := base.BlockLayout[K, V]{Order: order, Capacity: o.blockCapacity}
	file, err := storage.Open(path, 1, layout.Size())
	if err != nil {
		return nil, multierr.Append(err, index.Close())
	}

	c, err := cache.New[*base.Block[K, V]](file, layout, o.cacheSize)
	if err != nil {
		return nil, multierr.Combine(err, file.Close(), index.Close())
	}

	s := &Store[K, V]{
		index:  index,
		file:   file,
		cache:  c,
		ahead:  prefetch.New(file),
		order:  order,
		layout: layout,
		zero:   make([]byte, layout.Size()),
		opts:   o,
		log:    o.logger,
	}

	s.log.Info("opened store", "path", path, "blocks", file.Count())
	return s, nil
}

func (s *Store[K, V]) check(key K, value V) error {
	if s.closed {
		return ErrClosed
	}
	return s.index.check(key, value)
}

// finish ends a public operation on both files
func (s *Store[K, V]) finish(errp *error, mutated bool) {
	err := s.cache.Release()
	if err != nil {
		s.log.Error("block write-back failed", "path", s.file.Path(), "error", err)
	}
	*errp = multierr.Append(*errp, err)

	s.index.finish(errp, false)
	if mutated && *errp == nil && s.opts.syncMode == SyncEveryOp {
		*errp = s.sync()
	}
}

// allocate appends an empty block to the block file
func (s *Store[K, V]) allocate() (base.PageID, *base.Block[K, V], error) {
	id, err := s.file.Append(s.zero)
	if err != nil {
		return 0, nil, err
	}
	blk := &base.Block[K, V]{Entries: make([]base.Entry[K, V], 0, s.opts.blockCapacity+1)}
	s.cache.Put(id, blk)
	return id, blk, nil
}

// Insert adds the pair (key, value). It returns StatusExists, leaving the
// store unchanged, if the pair is present.
func (s *Store[K, V]) Insert(key K, value V) (st Status, err error) {
	if err := s.check(key, value); err != nil {
		return StatusOK, err
	}
	defer s.finish(&err, true)

	return s.insert(base.Entry[K, V]{Key: key, Value: value})
}

func (s *Store[K, V]) insert(e base.Entry[K, V]) (Status, error) {
	empty, err := s.index.empty()
	if err != nil {
		return StatusOK, err
	}
	if empty {
		return StatusOK, s.bootstrap(e)
	}

	bound, ref, ok, err := s.index.lowerBound(e)
	if err != nil {
		return StatusOK, err
	}
	if !ok {
		// e is the new maximum: the last block's registration moves up to e
		last, lastRef, _, err := s.index.last()
		if err != nil {
			return StatusOK, err
		}
		if err := s.index.modify(last, e, lastRef); err != nil {
			return StatusOK, err
		}
		bound, ref = e, lastRef
	}

	id := base.PageID(ref)
	blk, err := s.cache.Get(id)
	if err != nil {
		return StatusOK, err
	}
	pos, found := blk.Find(e, s.order)
	if found {
		return StatusExists, nil
	}
	blk.Insert(pos, e)

	if blk.Size() >= s.opts.blockCapacity {
		if err := s.split(id, blk, bound); err != nil {
			return StatusOK, err
		}
	}
	return StatusOK, nil
}

// bootstrap starts an empty store with a single block holding e. Blocks left
// vacant by earlier removals are dropped.
func (s *Store[K, V]) bootstrap(e base.Entry[K, V]) error {
	s.cache.Reset()
	if err := s.file.Reset(); err != nil {
		return err
	}

	id, blk, err := s.allocate()
	if err != nil {
		return err
	}
	blk.Insert(0, e)
	return s.index.insert(e, uint64(id))
}

// split moves the upper half of a full block into a new block. The new block
// takes over the old registration bound, and the old block is registered
// under its new maximum.
func (s *Store[K, V]) split(id base.PageID, blk *base.Block[K, V], bound base.Entry[K, V]) error {
	mid := blk.Size() / 2

	upperID, upper, err := s.allocate()
	if err != nil {
		return err
	}
	upper.Entries = append(upper.Entries, blk.Entries[mid:]...)
	blk.Entries = blk.Entries[:mid]

	if err := s.index.modify(bound, bound, uint64(upperID)); err != nil {
		return err
	}
	return s.index.insert(blk.Max(), uint64(id))
}

// Remove deletes the pair (key, value). It returns StatusNotFound, leaving
// the store unchanged, if the pair is absent.
func (s *Store[K, V]) Remove(key K, value V) (st Status, err error) {
	if err := s.check(key, value); err != nil {
		return StatusOK, err
	}
	defer s.finish(&err, true)

	return s.remove(base.Entry[K, V]{Key: key, Value: value})
}

func (s *Store[K, V]) remove(e base.Entry[K, V]) (Status, error) {
	bound, ref, ok, err := s.index.lowerBound(e)
	if err != nil {
		return StatusOK, err
	}
	if !ok {
		return StatusNotFound, nil
	}

	blk, err := s.cache.Get(base.PageID(ref))
	if err != nil {
		return StatusOK, err
	}
	pos, found := blk.Find(e, s.order)
	if !found {
		return StatusNotFound, nil
	}

	// The block's boundary goes away: re-register under the entry below it
	if pos == blk.Size()-1 {
		if err := s.index.remove(bound); err != nil {
			return StatusOK, err
		}
		if blk.Size() > 1 {
			if err := s.index.insert(blk.Entries[pos-1], ref); err != nil {
				return StatusOK, err
			}
		}
	}
	blk.Remove(pos)
	return StatusOK, nil
}

// Contains reports whether the pair (key, value) is present
func (s *Store[K, V]) Contains(key K, value V) (ok bool, err error) {
	if err := s.check(key, value); err != nil {
		return false, err
	}
	defer s.finish(&err, false)

	e := base.Entry[K, V]{Key: key, Value: value}
	_, ref, ok, err := s.index.lowerBound(e)
	if err != nil || !ok {
		return false, err
	}
	blk, err := s.cache.Get(base.PageID(ref))
	if err != nil {
		return false, err
	}
	_, ok = blk.Find(e, s.order)
	return ok, nil
}

// Find returns every value stored under key, in order. It returns
// ErrKeyNotFound if there are none.
func (s *Store[K, V]) Find(key K) (values []V, err error) {
	var zero V
	if err := s.check(key, zero); err != nil {
		return nil, err
	}
	defer s.finish(&err, false)

	probe := base.Entry[K, V]{Key: key}
	c := &cursor[K, V]{t: s.index, unpin: true}
	if err := c.seek(probe, s.order.CompareKey); err != nil {
		return nil, err
	}
	s.ahead.Reset()
	for c.valid() {
		bound, ref := c.entry()
		s.hint(c)

		blk, err := s.cache.Get(base.PageID(ref))
		if err != nil {
			return nil, err
		}
		lo, hi := blk.KeyRange(probe, s.order)
		for _, e := range blk.Entries[lo:hi] {
			values = append(values, e.Value)
		}
		if err := s.cache.Release(); err != nil {
			return nil, err
		}

		// Later blocks start past this boundary
		if s.order.Keys.Compare(bound.Key, key) > 0 {
			break
		}
		if err := c.next(); err != nil {
			return nil, err
		}
	}

	if len(values) == 0 {
		return nil, ErrKeyNotFound
	}
	return values, nil
}

// hint advises the block file of the blocks registered after the cursor in
// its current leaf. Failures only cost read-ahead.
func (s *Store[K, V]) hint(c *cursor[K, V]) {
	if err := s.ahead.Trigger(c.node.Refs[c.pos+1:]); err != nil {
		s.log.Warn("block read-ahead failed", "path", s.file.Path(), "error", err)
	}
}

// Empty reports whether the store holds no entries
func (s *Store[K, V]) Empty() (ok bool, err error) {
	if s.closed {
		return false, ErrClosed
	}
	defer s.finish(&err, false)

	return s.index.empty()
}

// Clear removes every entry and truncates both files
func (s *Store[K, V]) Clear() (err error) {
	if s.closed {
		return ErrClosed
	}
	defer s.finish(&err, true)

	if err := s.index.clear(); err != nil {
		return err
	}
	s.cache.Reset()
	if err := s.file.Reset(); err != nil {
		return err
	}
	s.log.Info("cleared store", "path", s.file.Path())
	return nil
}

// Dump writes the index followed by every block in key order to w
func (s *Store[K, V]) Dump(w io.Writer) (err error) {
	if s.closed {
		return ErrClosed
	}
	if err := s.index.Dump(w); err != nil {
		return err
	}
	defer s.finish(&err, false)

	if _, err := fmt.Fprintf(w, "blocks=%d\n", s.file.Count()); err != nil {
		return err
	}

	c := &cursor[K, V]{t: s.index, unpin: true}
	if err := c.first(); err != nil {
		return err
	}
	for c.valid() {
		_, ref := c.entry()
		blk, err := s.cache.Get(base.PageID(ref))
		if err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "%d:", ref); err != nil {
			return err
		}
		for _, e := range blk.Entries {
			if _, err := fmt.Fprintf(w, " %v", e); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}

		if err := s.cache.Release(); err != nil {
			return err
		}
		if err := c.next(); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the index and that every registration names a sorted,
// non-empty block whose maximum equals the registration, with blocks in
// ascending order.
func (s *Store[K, V]) Verify() (err error) {
	if s.closed {
		return ErrClosed
	}
	if err := s.index.Verify(); err != nil {
		return err
	}
	defer s.finish(&err, false)

	var (
		prev *base.Entry[K, V]
		seen = make(map[uint64]bool)
	)

	c := &cursor[K, V]{t: s.index, unpin: true}
	if err := c.first(); err != nil {
		return err
	}
	s.ahead.Reset()
	for c.valid() {
		bound, ref := c.entry()
		s.hint(c)
		if seen[ref] {
			return s.corrupt("block %d registered twice", ref)
		}
		seen[ref] = true

		blk, err := s.cache.Get(base.PageID(ref))
		if err != nil {
			return err
		}
		if blk.Size() == 0 {
			return s.corrupt("registered block %d is empty", ref)
		}
		if blk.Size() > s.opts.blockCapacity-1 {
			return s.corrupt("block %d holds %d entries, capacity is %d", ref, blk.Size(), s.opts.blockCapacity)
		}
		for i := 1; i < blk.Size(); i++ {
			if s.order.Compare(blk.Entries[i-1], blk.Entries[i]) >= 0 {
				return s.corrupt("block %d is unsorted at %d", ref, i)
			}
		}
		if s.order.Compare(blk.Max(), bound) != 0 {
			return s.corrupt("block %d maximum %v is registered as %v", ref, blk.Max(), bound)
		}
		if prev != nil && s.order.Compare(*prev, blk.Entries[0]) >= 0 {
			return s.corrupt("block %d overlaps the block before it", ref)
		}
		m := blk.Max()
		prev = &m

		if err := s.cache.Release(); err != nil {
			return err
		}
		if err := c.next(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store[K, V]) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorruption, s.file.Path(), fmt.Sprintf(format, args...))
}

func (s *Store[K, V]) sync() error {
	err := s.cache.Flush()
	if err == nil {
		err = s.file.WriteHeader()
	}
	if err == nil && s.opts.syncMode != SyncOff {
		err = s.file.Sync()
	}
	return multierr.Append(err, s.index.sync())
}

// Sync writes every dirty block and index node and, unless the sync mode is
// SyncOff, flushes both files to stable storage.
func (s *Store[K, V]) Sync() error {
	if s.closed {
		return ErrClosed
	}
	return s.sync()
}

// Close syncs and closes both files. Calling Close more than once is a no-op.
func (s *Store[K, V]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.cache.Close()
	if err == nil && s.opts.syncMode != SyncOff {
		err = s.file.Sync()
	}
	return multierr.Combine(err, s.file.Close(), s.index.Close())
}

// StoreStats holds statistics for both files of a store
type StoreStats struct {
	Index  Stats
	Blocks Stats
}

// Stats returns store statistics
func (s *Store[K, V]) Stats() StoreStats {
	return StoreStats{
		Index:  s.index.Stats(),
		Blocks: fileStats(s.file, s.cache.Stats()),
	}
}
