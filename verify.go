package blockriver

import (
	"fmt"
	"io"

	"github.com/alexhholmes/blockriver/internal/base"
)

// Verify walks the whole tree level by level and checks its structure:
// sorted nodes within size bounds, parent links, boundaries equal to child
// maxima, ordered sibling lists and leaves all on one level. It returns an
// error wrapping ErrCorruption on the first violation.
func (t *BTree[K, V]) Verify() (err error) {
	if t.closed {
		return ErrClosed
	}
	defer t.finish(&err, false)

	if t.root == 0 {
		return nil
	}

	root, err := t.node(t.root)
	if err != nil {
		return err
	}
	if root.Parent != 0 {
		return t.corrupt("root %d has parent %d", t.root, root.Parent)
	}
	if !root.Leaf && root.Size() < 2 {
		return t.corrupt("branch root %d has %d children", t.root, root.Size())
	}

	seen := make(map[base.PageID]bool)
	level := []base.PageID{t.root}
	for depth := 0; len(level) > 0; depth++ {
		next, err := t.verifyLevel(level, depth, seen)
		if err != nil {
			return err
		}
		// Nothing on this level is still referenced
		if err := t.cache.Release(); err != nil {
			return err
		}
		level = next
	}

	for _, id := range t.free.IDs() {
		if seen[base.PageID(id)] {
			return t.corrupt("free page %d is reachable", id)
		}
	}
	return nil
}

// verifyLevel checks one level and returns the ids of the level below
func (t *BTree[K, V]) verifyLevel(level []base.PageID, depth int, seen map[base.PageID]bool) ([]base.PageID, error) {
	var (
		children []base.PageID
		prevID   base.PageID
		prevMax  *base.Entry[K, V]
		leaves   int
	)

	for _, id := range level {
		if seen[id] {
			return nil, t.corrupt("node %d reached twice", id)
		}
		seen[id] = true

		n, err := t.node(id)
		if err != nil {
			return nil, err
		}
		if n.Leaf {
			leaves++
		}

		if n.Size() > t.opts.degree-1 {
			return nil, t.corrupt("node %d holds %d entries, degree is %d", id, n.Size(), t.opts.degree)
		}
		if id != t.root && n.Size() < t.opts.minSize {
			return nil, t.corrupt("node %d holds %d entries, minimum is %d", id, n.Size(), t.opts.minSize)
		}
		for i := 1; i < n.Size(); i++ {
			if t.order.Compare(n.Entries[i-1], n.Entries[i]) >= 0 {
				return nil, t.corrupt("node %d is unsorted at slot %d", id, i)
			}
		}

		if n.Prev != prevID {
			return nil, t.corrupt("node %d links back to %d, want %d", id, n.Prev, prevID)
		}
		if n.Size() > 0 {
			if prevMax != nil && t.order.Compare(*prevMax, n.Entries[0]) >= 0 {
				return nil, t.corrupt("node %d overlaps its left sibling at depth %d", id, depth)
			}
			m := n.Max()
			prevMax = &m
		}
		prevID = id

		if n.Leaf {
			continue
		}
		for i := range n.Entries {
			childID := n.Child(i)
			child, err := t.node(childID)
			if err != nil {
				return nil, err
			}
			if child.Parent != id {
				return nil, t.corrupt("node %d has parent %d, want %d", childID, child.Parent, id)
			}
			if child.Size() == 0 {
				return nil, t.corrupt("node %d is empty", childID)
			}
			if t.order.Compare(child.Max(), n.Entries[i]) != 0 {
				return nil, t.corrupt("node %d slot %d is %v, child maximum is %v", id, i, n.Entries[i], child.Max())
			}
			children = append(children, childID)
		}
	}

	if last, err := t.node(prevID); err != nil {
		return nil, err
	} else if last.Next != 0 {
		return nil, t.corrupt("node %d at the end of depth %d links to %d", prevID, depth, last.Next)
	}
	if leaves != 0 && leaves != len(level) {
		return nil, t.corrupt("depth %d mixes leaves and branches", depth)
	}
	return children, nil
}

// Dump writes every record of the index file to w, one node per line.
func (t *BTree[K, V]) Dump(w io.Writer) (err error) {
	if t.closed {
		return ErrClosed
	}
	defer t.finish(&err, false)

	if _, err := fmt.Fprintf(w, "root=%d nodes=%d free=%d\n", t.root, t.file.Count(), t.free.Size()); err != nil {
		return err
	}

	for i := uint64(1); i <= t.file.Count(); i++ {
		id := base.PageID(i)
		if t.free.Contains(id) {
			if _, err := fmt.Fprintf(w, "%d: free\n", id); err != nil {
				return err
			}
			continue
		}

		n, err := t.node(id)
		if err != nil {
			return err
		}
		if err := t.dumpNode(w, id, n); err != nil {
			return err
		}
		if err := t.cache.Release(); err != nil {
			return err
		}
	}
	return nil
}

func (t *BTree[K, V]) dumpNode(w io.Writer, id base.PageID, n *base.Node[K, V]) error {
	kind := "branch"
	switch {
	case id == t.root:
		kind = "root"
	case n.Leaf:
		kind = "leaf"
	}

	if _, err := fmt.Fprintf(w, "%d: %s parent=%d prev=%d next=%d\n", id, kind, n.Parent, n.Prev, n.Next); err != nil {
		return err
	}
	for i, e := range n.Entries {
		if _, err := fmt.Fprintf(w, "  %v->%d", e, n.Refs[i]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}
