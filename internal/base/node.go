package base

import "github.com/alexhholmes/blockriver/internal/algo"

// Node is a decoded b+ tree node.
//
// Entries are sorted by the composite order. In a branch node Entries[i] is
// the maximum entry of the subtree rooted at Refs[i]; in a leaf Refs[i] is the
// caller's record reference for Entries[i].
type Node[K, V any] struct {
	Leaf   bool
	Parent PageID
	Next   PageID // right neighbour on the same level
	Prev   PageID // left neighbour on the same level

	Entries []Entry[K, V]
	Refs    []uint64
}

// Size returns the number of entries
func (n *Node[K, V]) Size() int {
	return len(n.Entries)
}

// Max returns the largest entry, which is the node's boundary in its parent.
// The node must not be empty.
func (n *Node[K, V]) Max() Entry[K, V] {
	return n.Entries[len(n.Entries)-1]
}

// Child returns the page id stored in slot i of a branch node
func (n *Node[K, V]) Child(i int) PageID {
	return PageID(n.Refs[i])
}

// Find returns the position of e and whether it is present
func (n *Node[K, V]) Find(e Entry[K, V], o Order[K, V]) (int, bool) {
	return algo.Find(n.Entries, e, o.Compare)
}

// Route returns the slot to descend into for e: the first slot whose boundary
// is >= e. It returns Size() when e is beyond every boundary.
func (n *Node[K, V]) Route(e Entry[K, V], o Order[K, V]) int {
	return algo.LowerBound(n.Entries, e, o.Compare)
}

// Search returns the first slot that is >= e under cmp
func (n *Node[K, V]) Search(e Entry[K, V], cmp func(a, b Entry[K, V]) int) int {
	return algo.LowerBound(n.Entries, e, cmp)
}

// Insert places e and its reference at position i
func (n *Node[K, V]) Insert(i int, e Entry[K, V], ref uint64) {
	n.Entries = algo.InsertAt(n.Entries, i, e)
	n.Refs = algo.InsertAt(n.Refs, i, ref)
}

// Remove drops the entry at position i
func (n *Node[K, V]) Remove(i int) {
	n.Entries = algo.RemoveAt(n.Entries, i)
	n.Refs = algo.RemoveAt(n.Refs, i)
}

// ChildIndex returns the slot holding child id, or -1
func (n *Node[K, V]) ChildIndex(id PageID) int {
	for i, ref := range n.Refs {
		if PageID(ref) == id {
			return i
		}
	}
	return -1
}

// Reset empties the node so the page can be reused
func (n *Node[K, V]) Reset() {
	n.Leaf = false
	n.Parent = 0
	n.Next = 0
	n.Prev = 0
	n.Entries = n.Entries[:0]
	n.Refs = n.Refs[:0]
}
