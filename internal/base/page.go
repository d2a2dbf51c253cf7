package base

import (
	"encoding/binary"
	"fmt"
)

const (
	// NodeHeaderSize is size(8) + Parent(8) + Leaf(8) + Next(8) + Prev(8)
	NodeHeaderSize = 40
	// BlockHeaderSize is size(8)
	BlockHeaderSize = 8
	refSize         = 8
)

var bin = binary.LittleEndian

// NodeLayout encodes nodes into fixed-size index records.
//
// NODE RECORD LAYOUT:
// ┌────────────────────────────────────────────────────────────┐
// │ header (40 bytes)                                          │
// │ size, Parent, Leaf, Next, Prev (8 bytes each)              │
// ├────────────────────────────────────────────────────────────┤
// │ slot[0]: key | value | ref(8)                              │
// ├────────────────────────────────────────────────────────────┤
// │ ...                                                        │
// ├────────────────────────────────────────────────────────────┤
// │ slot[Degree-1]                                             │
// └────────────────────────────────────────────────────────────┘
// Unused slots are zero so equal nodes encode to equal bytes.
type NodeLayout[K, V any] struct {
	Order  Order[K, V]
	Degree int
}

func (l NodeLayout[K, V]) slotSize() int {
	return l.Order.EntrySize() + refSize
}

// Size is the record size in bytes
func (l NodeLayout[K, V]) Size() int {
	return NodeHeaderSize + l.Degree*l.slotSize()
}

// Encode writes n into dst
func (l NodeLayout[K, V]) Encode(dst []byte, n *Node[K, V]) {
	dst = dst[:l.Size()]
	clear(dst)

	bin.PutUint64(dst[0:8], uint64(len(n.Entries)))
	bin.PutUint64(dst[8:16], uint64(n.Parent))
	if n.Leaf {
		bin.PutUint64(dst[16:24], 1)
	}
	bin.PutUint64(dst[24:32], uint64(n.Next))
	bin.PutUint64(dst[32:40], uint64(n.Prev))

	es := l.Order.EntrySize()
	off := NodeHeaderSize
	for i, e := range n.Entries {
		l.Order.encodeEntry(dst[off:], e)
		bin.PutUint64(dst[off+es:], n.Refs[i])
		off += l.slotSize()
	}
}

// Decode reads a node from src
func (l NodeLayout[K, V]) Decode(src []byte) (*Node[K, V], error) {
	if len(src) < l.Size() {
		return nil, fmt.Errorf("%w: node record is %d bytes, want %d", ErrCorruption, len(src), l.Size())
	}

	size := bin.Uint64(src[0:8])
	if size > uint64(l.Degree) {
		return nil, fmt.Errorf("%w: node size %d exceeds degree %d", ErrCorruption, size, l.Degree)
	}
	leaf := bin.Uint64(src[16:24])
	if leaf > 1 {
		return nil, fmt.Errorf("%w: invalid leaf flag %d", ErrCorruption, leaf)
	}

	n := &Node[K, V]{
		Leaf:    leaf == 1,
		Parent:  PageID(bin.Uint64(src[8:16])),
		Next:    PageID(bin.Uint64(src[24:32])),
		Prev:    PageID(bin.Uint64(src[32:40])),
		Entries: make([]Entry[K, V], size, l.Degree+1),
		Refs:    make([]uint64, size, l.Degree+1),
	}

	es := l.Order.EntrySize()
	off := NodeHeaderSize
	for i := range n.Entries {
		n.Entries[i] = l.Order.decodeEntry(src[off:])
		n.Refs[i] = bin.Uint64(src[off+es:])
		off += l.slotSize()
	}

	return n, nil
}

// BlockLayout encodes blocks into fixed-size data records.
//
// BLOCK RECORD LAYOUT:
// ┌────────────────────────────────────────────────────────────┐
// │ size (8 bytes)                                             │
// ├────────────────────────────────────────────────────────────┤
// │ entry[0]: key | value                                      │
// ├────────────────────────────────────────────────────────────┤
// │ ...                                                        │
// ├────────────────────────────────────────────────────────────┤
// │ entry[Capacity-1]                                          │
// └────────────────────────────────────────────────────────────┘
type BlockLayout[K, V any] struct {
	Order    Order[K, V]
	Capacity int
}

// Size is the record size in bytes
func (l BlockLayout[K, V]) Size() int {
	return BlockHeaderSize + l.Capacity*l.Order.EntrySize()
}

// Encode writes b into dst
func (l BlockLayout[K, V]) Encode(dst []byte, b *Block[K, V]) {
	dst = dst[:l.Size()]
	clear(dst)

	bin.PutUint64(dst[0:8], uint64(len(b.Entries)))
	es := l.Order.EntrySize()
	for i, e := range b.Entries {
		l.Order.encodeEntry(dst[BlockHeaderSize+i*es:], e)
	}
}

// Decode reads a block from src
func (l BlockLayout[K, V]) Decode(src []byte) (*Block[K, V], error) {
	if len(src) < l.Size() {
		return nil, fmt.Errorf("%w: block record is %d bytes, want %d", ErrCorruption, len(src), l.Size())
	}

	size := bin.Uint64(src[0:8])
	if size > uint64(l.Capacity) {
		return nil, fmt.Errorf("%w: block size %d exceeds capacity %d", ErrCorruption, size, l.Capacity)
	}

	b := &Block[K, V]{Entries: make([]Entry[K, V], size, l.Capacity+1)}
	es := l.Order.EntrySize()
	for i := range b.Entries {
		b.Entries[i] = l.Order.decodeEntry(src[BlockHeaderSize+i*es:])
	}

	return b, nil
}
