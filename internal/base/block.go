package base

import "github.com/alexhholmes/blockriver/internal/algo"

// Block is a decoded data block: a sorted run of entries with no links.
// Its boundary is its maximum entry.
type Block[K, V any] struct {
	Entries []Entry[K, V]
}

// Size returns the number of entries
func (b *Block[K, V]) Size() int {
	return len(b.Entries)
}

// Max returns the largest entry. The block must not be empty.
func (b *Block[K, V]) Max() Entry[K, V] {
	return b.Entries[len(b.Entries)-1]
}

// Find returns the position of e and whether it is present
func (b *Block[K, V]) Find(e Entry[K, V], o Order[K, V]) (int, bool) {
	return algo.Find(b.Entries, e, o.Compare)
}

// KeyRange returns the half-open range of positions whose key equals e.Key
func (b *Block[K, V]) KeyRange(e Entry[K, V], o Order[K, V]) (int, int) {
	return algo.LowerBound(b.Entries, e, o.CompareKey), algo.UpperBound(b.Entries, e, o.CompareKey)
}

// Insert places e at position i
func (b *Block[K, V]) Insert(i int, e Entry[K, V]) {
	b.Entries = algo.InsertAt(b.Entries, i, e)
}

// Remove drops the entry at position i
func (b *Block[K, V]) Remove(i int) {
	b.Entries = algo.RemoveAt(b.Entries, i)
}
