package blockriver

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/alexhholmes/blockriver/codec"
	"github.com/alexhholmes/blockriver/internal/base"
	"github.com/alexhholmes/blockriver/internal/cache"
	"github.com/alexhholmes/blockriver/internal/freelist"
	"github.com/alexhholmes/blockriver/internal/storage"
)

// Entry is a (Key, Value) pair. Entries sort by key, then by value.
type Entry[K, V any] = base.Entry[K, V]

// Index file header words. Word 0 is the record count kept by storage.
const (
	_ = iota
	headerRoot
	headerFree
	indexHeaderWords
)

// BTree is a disk-resident b+ tree mapping unique (Key, Value) pairs to a
// 64-bit reference.
//
// Every node lives in a fixed-size record of the index file. Branch slot i
// holds the maximum entry of child i, so a lookup descends into the first
// slot that is >= the target. Leaves on every level are linked both ways.
//
// A BTree is not safe for concurrent use.
type BTree[K, V any] struct {
	file   *storage.File
	cache  *cache.Cache[*base.Node[K, V]]
	free   *freelist.Freelist
	order  base.Order[K, V]
	layout base.NodeLayout[K, V]
	zero   []byte // blank record used to grow the file

	root   base.PageID
	opts   Options
	log    Logger
	closed bool
}

// OpenBTree opens the index file at path, creating it if missing.
func OpenBTree[K, V any](path string, keys codec.Codec[K], values codec.Codec[V], opts ...Option) (*BTree[K, V], error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return openBTree(path, base.Order[K, V]{Keys: keys, Values: values}, o)
}

func openBTree[K, V any](path string, order base.Order[K, V], o Options) (*BTree[K, V], error) {
	layout := base.NodeLayout[K, V]{Order: order, Degree: o.degree}

	file, err := storage.Open(path, indexHeaderWords, layout.Size())
	if err != nil {
		return nil, err
	}

	t := &BTree[K, V]{
		file:   file,
		free:   freelist.New(),
		order:  order,
		layout: layout,
		zero:   make([]byte, layout.Size()),
		root:   base.PageID(file.Header(headerRoot)),
		opts:   o,
		log:    o.logger,
	}

	if err := t.load(); err != nil {
		return nil, multierr.Append(err, file.Close())
	}

	t.cache, err = cache.New[*base.Node[K, V]](file, layout, o.cacheSize)
	if err != nil {
		return nil, multierr.Append(err, file.Close())
	}

	t.log.Info("opened index",
		"path", path,
		"nodes", file.Count(),
		"root", uint64(t.root),
		"free", t.free.Size())
	return t, nil
}

// load validates the header and reads the persisted free list
func (t *BTree[K, V]) load() error {
	count := t.file.Count()
	if uint64(t.root) > count {
		return fmt.Errorf("%w: %s: root %d beyond %d nodes", ErrCorruption, t.file.Path(), t.root, count)
	}

	ids, err := t.file.ReadTrailer(int(t.file.Header(headerFree)))
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == 0 || id > count || id == uint64(t.root) {
			return fmt.Errorf("%w: %s: invalid free page %d", ErrCorruption, t.file.Path(), id)
		}
	}
	t.free.Load(ids)
	return nil
}

// check rejects operations on a closed tree and entries that cannot be
// encoded.
func (t *BTree[K, V]) check(key K, value V) error {
	if t.closed {
		return ErrClosed
	}
	if !t.order.Keys.Fits(key) {
		return ErrKeyTooLarge
	}
	if !t.order.Values.Fits(value) {
		return ErrValueTooLarge
	}
	return nil
}

// finish ends a public operation. It unpins every page the operation touched
// and syncs after mutations in SyncEveryOp mode.
func (t *BTree[K, V]) finish(errp *error, mutated bool) {
	err := t.cache.Release()
	if err != nil {
		t.log.Error("page write-back failed", "path", t.file.Path(), "error", err)
	}
	if mutated && err == nil && *errp == nil && t.opts.syncMode == SyncEveryOp {
		err = t.sync()
	}
	*errp = multierr.Append(*errp, err)
}

func (t *BTree[K, V]) node(id base.PageID) (*base.Node[K, V], error) {
	return t.cache.Get(id)
}

// allocate returns an empty node, reusing a freed page when there is one
func (t *BTree[K, V]) allocate(leaf bool) (base.PageID, *base.Node[K, V], error) {
	if id := t.free.Allocate(); id != 0 {
		n, err := t.node(id)
		if err != nil {
			return 0, nil, err
		}
		n.Reset()
		n.Leaf = leaf
		return id, n, nil
	}

	id, err := t.file.Append(t.zero)
	if err != nil {
		return 0, nil, err
	}
	n := &base.Node[K, V]{
		Leaf:    leaf,
		Entries: make([]base.Entry[K, V], 0, t.opts.degree+1),
		Refs:    make([]uint64, 0, t.opts.degree+1),
	}
	t.cache.Put(id, n)
	return id, n, nil
}

// release returns a node's page to the free list
func (t *BTree[K, V]) release(id base.PageID, n *base.Node[K, V]) {
	n.Reset()
	t.free.Free(id)
}

func (t *BTree[K, V]) corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorruption, t.file.Path(), fmt.Sprintf(format, args...))
}

// slot returns the position of child id in its parent
func (t *BTree[K, V]) slot(parent *base.Node[K, V], id base.PageID) (int, error) {
	i := parent.ChildIndex(id)
	if i < 0 {
		return 0, t.corrupt("node %d missing from its parent", id)
	}
	return i, nil
}

// empty reports whether the tree holds no entries
func (t *BTree[K, V]) empty() (bool, error) {
	if t.root == 0 {
		return true, nil
	}
	root, err := t.node(t.root)
	if err != nil {
		return false, err
	}
	return root.Size() == 0, nil
}

// leaf descends to the leaf that would hold e. It returns a nil node when e
// is greater than every entry in the tree.
func (t *BTree[K, V]) leaf(e base.Entry[K, V]) (base.PageID, *base.Node[K, V], error) {
	if t.root == 0 {
		return 0, nil, nil
	}

	id := t.root
	n, err := t.node(id)
	if err != nil {
		return 0, nil, err
	}
	for !n.Leaf {
		i := n.Route(e, t.order)
		if i == n.Size() {
			return 0, nil, nil
		}
		id = n.Child(i)
		if n, err = t.node(id); err != nil {
			return 0, nil, err
		}
	}
	return id, n, nil
}

// Insert adds the pair (key, value) with reference ref. It returns
// ErrDuplicateEntry, leaving the tree unchanged, if the pair is present.
func (t *BTree[K, V]) Insert(key K, value V, ref uint64) (err error) {
	if err := t.check(key, value); err != nil {
		return err
	}
	defer t.finish(&err, true)

	return t.insert(base.Entry[K, V]{Key: key, Value: value}, ref)
}

func (t *BTree[K, V]) insert(e base.Entry[K, V], ref uint64) error {
	if t.root == 0 {
		id, root, err := t.allocate(true)
		if err != nil {
			return err
		}
		root.Insert(0, e, ref)
		t.root = id
		return nil
	}

	id, n, err := t.leaf(e)
	if err != nil {
		return err
	}
	if n == nil {
		// e is the new maximum: stretch the rightmost boundaries first
		if err := t.extend(e); err != nil {
			return err
		}
		if id, n, err = t.leaf(e); err != nil {
			return err
		}
		if n == nil {
			return t.corrupt("entry %v not routed after extending root %d", e, t.root)
		}
	}

	pos, found := n.Find(e, t.order)
	if found {
		return ErrDuplicateEntry
	}
	n.Insert(pos, e, ref)

	return t.split(id, n)
}

// extend rewrites the last boundary of every branch node on the rightmost
// path to e, so that e routes into the rightmost leaf.
func (t *BTree[K, V]) extend(e base.Entry[K, V]) error {
	id := t.root
	for {
		n, err := t.node(id)
		if err != nil {
			return err
		}
		if n.Leaf {
			return nil
		}
		last := n.Size() - 1
		n.Entries[last] = e
		id = n.Child(last)
	}
}

// split splits n while it is full, moving the upper half into a new right
// sibling and cascading into the parent.
func (t *BTree[K, V]) split(id base.PageID, n *base.Node[K, V]) error {
	for n.Size() >= t.opts.degree {
		mid := n.Size() / 2

		sibID, sib, err := t.allocate(n.Leaf)
		if err != nil {
			return err
		}
		sib.Entries = append(sib.Entries, n.Entries[mid:]...)
		sib.Refs = append(sib.Refs, n.Refs[mid:]...)
		n.Entries = n.Entries[:mid]
		n.Refs = n.Refs[:mid]

		if !sib.Leaf {
			if err := t.adopt(sibID, sib.Refs); err != nil {
				return err
			}
		}

		// Link sib between n and its old right neighbour
		sib.Prev = id
		sib.Next = n.Next
		if n.Next != 0 {
			next, err := t.node(n.Next)
			if err != nil {
				return err
			}
			next.Prev = sibID
		}
		n.Next = sibID

		if n.Parent == 0 {
			rootID, root, err := t.allocate(false)
			if err != nil {
				return err
			}
			root.Insert(0, n.Max(), uint64(id))
			root.Insert(1, sib.Max(), uint64(sibID))
			n.Parent = rootID
			sib.Parent = rootID
			t.root = rootID
			return nil
		}

		parentID := n.Parent
		parent, err := t.node(parentID)
		if err != nil {
			return err
		}
		i, err := t.slot(parent, id)
		if err != nil {
			return err
		}
		parent.Entries[i] = n.Max()
		parent.Insert(i+1, sib.Max(), uint64(sibID))
		sib.Parent = parentID

		id, n = parentID, parent
	}
	return nil
}

// adopt points the parent link of every child in refs at id
func (t *BTree[K, V]) adopt(id base.PageID, refs []uint64) error {
	for _, ref := range refs {
		child, err := t.node(base.PageID(ref))
		if err != nil {
			return err
		}
		child.Parent = id
	}
	return nil
}

// Remove deletes the pair (key, value). It returns ErrEntryNotFound, leaving
// the tree unchanged, if the pair is absent.
func (t *BTree[K, V]) Remove(key K, value V) (err error) {
	if err := t.check(key, value); err != nil {
		return err
	}
	defer t.finish(&err, true)

	return t.remove(base.Entry[K, V]{Key: key, Value: value})
}

func (t *BTree[K, V]) remove(e base.Entry[K, V]) error {
	id, n, err := t.leaf(e)
	if err != nil {
		return err
	}
	if n == nil {
		return ErrEntryNotFound
	}
	pos, found := n.Find(e, t.order)
	if !found {
		return ErrEntryNotFound
	}

	// Removing the maximum: the entry below it becomes the new boundary
	if pos == n.Size()-1 && n.Parent != 0 && n.Size() > 1 {
		if err := t.substitute(id, n, n.Entries[pos-1]); err != nil {
			return err
		}
	}
	n.Remove(pos)

	return t.rebalance(id, n)
}

// substitute replaces the boundary of node id with e in its parent, and in
// every further ancestor for which the boundary is also the last slot.
func (t *BTree[K, V]) substitute(id base.PageID, n *base.Node[K, V], e base.Entry[K, V]) error {
	for n.Parent != 0 {
		parentID := n.Parent
		parent, err := t.node(parentID)
		if err != nil {
			return err
		}
		i, err := t.slot(parent, id)
		if err != nil {
			return err
		}
		parent.Entries[i] = e
		if i != parent.Size()-1 {
			return nil
		}
		id, n = parentID, parent
	}
	return nil
}

// fixBoundary sets the boundary of node id to its maximum, climbing while the
// boundary is the last slot of its parent and keeps changing.
func (t *BTree[K, V]) fixBoundary(id base.PageID, n *base.Node[K, V]) error {
	for n.Parent != 0 && n.Size() > 0 {
		parentID := n.Parent
		parent, err := t.node(parentID)
		if err != nil {
			return err
		}
		i, err := t.slot(parent, id)
		if err != nil {
			return err
		}
		if t.order.Compare(parent.Entries[i], n.Max()) == 0 {
			return nil
		}
		parent.Entries[i] = n.Max()
		if i != parent.Size()-1 {
			return nil
		}
		id, n = parentID, parent
	}
	return nil
}

// rebalance restores minimum occupancy from node id upward
func (t *BTree[K, V]) rebalance(id base.PageID, n *base.Node[K, V]) error {
	for {
		if n.Parent == 0 {
			return t.collapse()
		}
		if n.Size() >= t.opts.minSize {
			return nil
		}

		parentID := n.Parent
		parent, err := t.node(parentID)
		if err != nil {
			return err
		}
		i, err := t.slot(parent, id)
		if err != nil {
			return err
		}

		// Only child: nothing to borrow from or merge into
		if parent.Size() == 1 {
			if n.Size() > 0 {
				return nil
			}
			if err := t.unlink(n); err != nil {
				return err
			}
			parent.Remove(i)
			t.release(id, n)
			id, n = parentID, parent
			continue
		}

		if i > 0 {
			leftID := parent.Child(i - 1)
			left, err := t.node(leftID)
			if err != nil {
				return err
			}
			if left.Size() > t.opts.minSize {
				return t.borrowLeft(id, n, left, parent, i)
			}
			if err := t.mergeLeft(id, n, leftID, left, parent, i); err != nil {
				return err
			}
		} else {
			rightID := parent.Child(i + 1)
			right, err := t.node(rightID)
			if err != nil {
				return err
			}
			if right.Size() > t.opts.minSize {
				return t.borrowRight(id, n, right, parent, i)
			}
			if err := t.mergeRight(id, n, rightID, right, parent, i); err != nil {
				return err
			}
		}

		// Merging away the last slot lowers the parent's maximum
		if err := t.fixBoundary(parentID, parent); err != nil {
			return err
		}
		id, n = parentID, parent
	}
}

// share is how many entries an underflowing node takes from a sibling of the
// given size: about half of the sibling's surplus, at least one.
func (t *BTree[K, V]) share(size int) int {
	return max((size-t.opts.minSize+1)/2, 1)
}

// borrowLeft moves the largest entries of left to the front of n
func (t *BTree[K, V]) borrowLeft(id base.PageID, n, left, parent *base.Node[K, V], i int) error {
	k := t.share(left.Size())
	from := left.Size() - k

	moved := left.Entries[from:]
	movedRefs := left.Refs[from:]
	n.Entries = append(append(make([]base.Entry[K, V], 0, t.opts.degree+1), moved...), n.Entries...)
	n.Refs = append(append(make([]uint64, 0, t.opts.degree+1), movedRefs...), n.Refs...)
	left.Entries = left.Entries[:from]
	left.Refs = left.Refs[:from]

	if !n.Leaf {
		if err := t.adopt(id, n.Refs[:k]); err != nil {
			return err
		}
	}

	parent.Entries[i-1] = left.Max()
	// n was possibly emptied, in which case its boundary is stale
	return t.fixBoundary(id, n)
}

// borrowRight moves the smallest entries of right to the end of n
func (t *BTree[K, V]) borrowRight(id base.PageID, n, right, parent *base.Node[K, V], i int) error {
	k := t.share(right.Size())

	start := n.Size()
	n.Entries = append(n.Entries, right.Entries[:k]...)
	n.Refs = append(n.Refs, right.Refs[:k]...)
	right.Entries = append(right.Entries[:0], right.Entries[k:]...)
	right.Refs = append(right.Refs[:0], right.Refs[k:]...)

	if !n.Leaf {
		if err := t.adopt(id, n.Refs[start:]); err != nil {
			return err
		}
	}

	parent.Entries[i] = n.Max()
	return nil
}

// mergeLeft appends n to its left sibling and frees n
func (t *BTree[K, V]) mergeLeft(id base.PageID, n *base.Node[K, V], leftID base.PageID, left, parent *base.Node[K, V], i int) error {
	if !n.Leaf {
		if err := t.adopt(leftID, n.Refs); err != nil {
			return err
		}
	}
	left.Entries = append(left.Entries, n.Entries...)
	left.Refs = append(left.Refs, n.Refs...)

	if err := t.unlink(n); err != nil {
		return err
	}
	parent.Remove(i)
	t.release(id, n)

	return t.fixBoundary(leftID, left)
}

// mergeRight prepends n to its right sibling and frees n
func (t *BTree[K, V]) mergeRight(id base.PageID, n *base.Node[K, V], rightID base.PageID, right, parent *base.Node[K, V], i int) error {
	if !n.Leaf {
		if err := t.adopt(rightID, n.Refs); err != nil {
			return err
		}
	}
	right.Entries = append(append(make([]base.Entry[K, V], 0, t.opts.degree+1), n.Entries...), right.Entries...)
	right.Refs = append(append(make([]uint64, 0, t.opts.degree+1), n.Refs...), right.Refs...)

	if err := t.unlink(n); err != nil {
		return err
	}
	parent.Remove(i)
	t.release(id, n)
	return nil
}

// unlink removes n from its level's sibling list
func (t *BTree[K, V]) unlink(n *base.Node[K, V]) error {
	if n.Prev != 0 {
		prev, err := t.node(n.Prev)
		if err != nil {
			return err
		}
		prev.Next = n.Next
	}
	if n.Next != 0 {
		next, err := t.node(n.Next)
		if err != nil {
			return err
		}
		next.Prev = n.Prev
	}
	return nil
}

// collapse replaces the root with its only child while the root is a branch
// with a single slot. An empty leaf root is kept as the empty tree.
func (t *BTree[K, V]) collapse() error {
	for {
		root, err := t.node(t.root)
		if err != nil {
			return err
		}
		if root.Leaf || root.Size() != 1 {
			return nil
		}

		childID := root.Child(0)
		child, err := t.node(childID)
		if err != nil {
			return err
		}
		child.Parent = 0
		t.release(t.root, root)
		t.root = childID
	}
}

// Modify replaces the pair old with repl and sets its reference to ref. The
// replacement must sort between the neighbours of old, otherwise
// ErrOrderViolation is returned.
func (t *BTree[K, V]) Modify(old, repl Entry[K, V], ref uint64) (err error) {
	if err := t.check(old.Key, old.Value); err != nil {
		return err
	}
	if err := t.check(repl.Key, repl.Value); err != nil {
		return err
	}
	defer t.finish(&err, true)

	return t.modify(old, repl, ref)
}

func (t *BTree[K, V]) modify(old, repl base.Entry[K, V], ref uint64) error {
	id, n, err := t.leaf(old)
	if err != nil {
		return err
	}
	if n == nil {
		return ErrEntryNotFound
	}
	pos, found := n.Find(old, t.order)
	if !found {
		return ErrEntryNotFound
	}

	lo, hi, err := t.neighbours(n, pos)
	if err != nil {
		return err
	}
	if lo != nil && t.order.Compare(*lo, repl) >= 0 {
		return ErrOrderViolation
	}
	if hi != nil && t.order.Compare(repl, *hi) >= 0 {
		return ErrOrderViolation
	}

	n.Entries[pos] = repl
	n.Refs[pos] = ref
	if pos == n.Size()-1 {
		return t.fixBoundary(id, n)
	}
	return nil
}

// neighbours returns the entries just before and after slot pos of leaf n,
// following sibling links across leaf edges.
func (t *BTree[K, V]) neighbours(n *base.Node[K, V], pos int) (lo, hi *base.Entry[K, V], err error) {
	switch {
	case pos > 0:
		lo = &n.Entries[pos-1]
	case n.Prev != 0:
		prev, err := t.node(n.Prev)
		if err != nil {
			return nil, nil, err
		}
		if prev.Size() > 0 {
			lo = &prev.Entries[prev.Size()-1]
		}
	}

	switch {
	case pos < n.Size()-1:
		hi = &n.Entries[pos+1]
	case n.Next != 0:
		next, err := t.node(n.Next)
		if err != nil {
			return nil, nil, err
		}
		if next.Size() > 0 {
			hi = &next.Entries[0]
		}
	}
	return lo, hi, nil
}

// Lookup returns the reference stored with (key, value)
func (t *BTree[K, V]) Lookup(key K, value V) (ref uint64, err error) {
	if err := t.check(key, value); err != nil {
		return 0, err
	}
	defer t.finish(&err, false)

	_, n, err := t.leaf(base.Entry[K, V]{Key: key, Value: value})
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, ErrEntryNotFound
	}
	pos, found := n.Find(base.Entry[K, V]{Key: key, Value: value}, t.order)
	if !found {
		return 0, ErrEntryNotFound
	}
	return n.Refs[pos], nil
}

// Empty reports whether the tree holds no entries
func (t *BTree[K, V]) Empty() (ok bool, err error) {
	if t.closed {
		return false, ErrClosed
	}
	defer t.finish(&err, false)

	return t.empty()
}

// Clear removes every entry and truncates the index file
func (t *BTree[K, V]) Clear() (err error) {
	if t.closed {
		return ErrClosed
	}
	defer t.finish(&err, true)

	if err := t.clear(); err != nil {
		return err
	}
	t.log.Info("cleared index", "path", t.file.Path())
	return nil
}

func (t *BTree[K, V]) clear() error {
	t.cache.Reset()
	t.free.Reset()
	t.root = 0
	return t.file.Reset()
}

// flush writes dirty nodes, the free list and the header
func (t *BTree[K, V]) flush() error {
	if err := t.cache.Flush(); err != nil {
		return err
	}

	ids := t.free.IDs()
	t.file.SetHeader(headerRoot, uint64(t.root))
	t.file.SetHeader(headerFree, uint64(len(ids)))
	if err := t.file.WriteTrailer(ids); err != nil {
		return err
	}
	return t.file.WriteHeader()
}

func (t *BTree[K, V]) sync() error {
	if err := t.flush(); err != nil {
		return err
	}
	if t.opts.syncMode == SyncOff {
		return nil
	}
	return t.file.Sync()
}

// Sync writes every dirty node to the index file and, unless the sync mode is
// SyncOff, flushes it to stable storage.
func (t *BTree[K, V]) Sync() error {
	if t.closed {
		return ErrClosed
	}
	return t.sync()
}

// Close syncs and closes the index file. Calling Close more than once is a
// no-op.
func (t *BTree[K, V]) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	err := t.sync()
	return multierr.Combine(err, t.cache.Close(), t.file.Close())
}

// Stats holds file and cache statistics
type Stats struct {
	Records   uint64 // records in the file, including free ones
	FreePages int
	Root      uint64

	CacheHits   uint64
	CacheMisses uint64
	Evictions   uint64
	WriteBacks  uint64

	Reads        uint64
	Writes       uint64
	BytesRead    uint64
	BytesWritten uint64
}

func fileStats(file *storage.File, c cache.Stats) Stats {
	io := file.Stats()
	return Stats{
		Records:      file.Count(),
		CacheHits:    c.Hits,
		CacheMisses:  c.Misses,
		Evictions:    c.Evictions,
		WriteBacks:   c.WriteBacks,
		Reads:        io.Reads,
		Writes:       io.Writes,
		BytesRead:    io.Read,
		BytesWritten: io.Written,
	}
}

// Stats returns index statistics
func (t *BTree[K, V]) Stats() Stats {
	s := fileStats(t.file, t.cache.Stats())
	s.FreePages = t.free.Size()
	s.Root = uint64(t.root)
	return s
}
