package base

import (
	"fmt"

	"github.com/alexhholmes/blockriver/codec"
)

// PageID is a 1-based record number. 0 means "no page".
type PageID uint64

// Entry is the composite (Key, Value) tuple every structure is sorted on.
type Entry[K, V any] struct {
	Key   K
	Value V
}

func (e Entry[K, V]) String() string {
	return fmt.Sprintf("(%v,%v)", e.Key, e.Value)
}

// Order bundles the key and value codecs and derives the composite order:
// primary by Key, secondary by Value.
type Order[K, V any] struct {
	Keys   codec.Codec[K]
	Values codec.Codec[V]
}

// Compare orders two entries by key, then by value.
func (o Order[K, V]) Compare(a, b Entry[K, V]) int {
	if c := o.Keys.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return o.Values.Compare(a.Value, b.Value)
}

// CompareKey orders two entries by key only.
func (o Order[K, V]) CompareKey(a, b Entry[K, V]) int {
	return o.Keys.Compare(a.Key, b.Key)
}

// EntrySize is the encoded width of one entry.
func (o Order[K, V]) EntrySize() int {
	return o.Keys.Size() + o.Values.Size()
}

func (o Order[K, V]) encodeEntry(dst []byte, e Entry[K, V]) {
	o.Keys.Encode(dst, e.Key)
	o.Values.Encode(dst[o.Keys.Size():], e.Value)
}

func (o Order[K, V]) decodeEntry(src []byte) Entry[K, V] {
	return Entry[K, V]{
		Key:   o.Keys.Decode(src),
		Value: o.Values.Decode(src[o.Keys.Size():]),
	}
}
