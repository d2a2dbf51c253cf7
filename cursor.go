package blockriver

import (
	"github.com/alexhholmes/blockriver/internal/base"
)

// cursor walks the leaf level in order using the sibling links
type cursor[K, V any] struct {
	t    *BTree[K, V]
	node *base.Node[K, V]
	pos  int

	// unpin releases pages when the cursor moves to the next leaf. Only
	// read-only operations may set it.
	unpin bool
}

// seek positions the cursor at the first entry >= e under cmp. Comparing
// keys only positions it at the first entry of e.Key.
func (c *cursor[K, V]) seek(e base.Entry[K, V], cmp func(a, b base.Entry[K, V]) int) error {
	c.node, c.pos = nil, 0

	t := c.t
	if t.root == 0 {
		return nil
	}

	n, err := t.node(t.root)
	if err != nil {
		return err
	}
	for !n.Leaf {
		i := n.Search(e, cmp)
		if i == n.Size() {
			return nil
		}
		if n, err = t.node(n.Child(i)); err != nil {
			return err
		}
	}

	c.node = n
	c.pos = n.Search(e, cmp)
	return c.settle()
}

// first positions the cursor at the smallest entry
func (c *cursor[K, V]) first() error {
	c.node, c.pos = nil, 0

	t := c.t
	if t.root == 0 {
		return nil
	}

	n, err := t.node(t.root)
	if err != nil {
		return err
	}
	for !n.Leaf {
		if n, err = t.node(n.Child(0)); err != nil {
			return err
		}
	}
	c.node = n
	return c.settle()
}

// settle moves past the end of exhausted leaves
func (c *cursor[K, V]) settle() error {
	for c.node != nil && c.pos >= c.node.Size() {
		next := c.node.Next
		if next == 0 {
			c.node = nil
			return nil
		}
		if c.unpin {
			if err := c.t.cache.Release(); err != nil {
				return err
			}
		}

		n, err := c.t.node(next)
		if err != nil {
			return err
		}
		c.node, c.pos = n, 0
	}
	return nil
}

func (c *cursor[K, V]) valid() bool {
	return c.node != nil
}

func (c *cursor[K, V]) entry() (base.Entry[K, V], uint64) {
	return c.node.Entries[c.pos], c.node.Refs[c.pos]
}

func (c *cursor[K, V]) next() error {
	c.pos++
	return c.settle()
}

// Find returns every value stored under key, in order. It returns
// ErrKeyNotFound if there are none.
func (t *BTree[K, V]) Find(key K) (values []V, err error) {
	var zero V
	if err := t.check(key, zero); err != nil {
		return nil, err
	}
	defer t.finish(&err, false)

	c := &cursor[K, V]{t: t, unpin: true}
	if err := c.seek(base.Entry[K, V]{Key: key}, t.order.CompareKey); err != nil {
		return nil, err
	}
	for c.valid() {
		e, _ := c.entry()
		if t.order.Keys.Compare(e.Key, key) != 0 {
			break
		}
		values = append(values, e.Value)
		if err := c.next(); err != nil {
			return nil, err
		}
	}

	if len(values) == 0 {
		return nil, ErrKeyNotFound
	}
	return values, nil
}

// Ascend calls fn for every entry whose key is >= key, in order, until fn
// returns false.
func (t *BTree[K, V]) Ascend(key K, fn func(e Entry[K, V], ref uint64) bool) (err error) {
	var zero V
	if err := t.check(key, zero); err != nil {
		return err
	}
	defer t.finish(&err, false)

	c := &cursor[K, V]{t: t, unpin: true}
	if err := c.seek(base.Entry[K, V]{Key: key}, t.order.CompareKey); err != nil {
		return err
	}
	for c.valid() {
		if !fn(c.entry()) {
			return nil
		}
		if err := c.next(); err != nil {
			return err
		}
	}
	return nil
}

// Seek returns the first entry >= (key, value) and its reference. It returns
// ErrEntryNotFound when every entry is smaller.
func (t *BTree[K, V]) Seek(key K, value V) (e Entry[K, V], ref uint64, err error) {
	if err := t.check(key, value); err != nil {
		return e, 0, err
	}
	defer t.finish(&err, false)

	e, ref, ok, err := t.lowerBound(base.Entry[K, V]{Key: key, Value: value})
	if err != nil {
		return e, 0, err
	}
	if !ok {
		return e, 0, ErrEntryNotFound
	}
	return e, ref, nil
}

// lowerBound returns the first entry >= e
func (t *BTree[K, V]) lowerBound(e base.Entry[K, V]) (base.Entry[K, V], uint64, bool, error) {
	c := &cursor[K, V]{t: t}
	if err := c.seek(e, t.order.Compare); err != nil {
		return e, 0, false, err
	}
	if !c.valid() {
		return e, 0, false, nil
	}
	found, ref := c.entry()
	return found, ref, true, nil
}

// Last returns the largest entry and its reference. It returns
// ErrEntryNotFound when the tree is empty.
func (t *BTree[K, V]) Last() (e Entry[K, V], ref uint64, err error) {
	if t.closed {
		return e, 0, ErrClosed
	}
	defer t.finish(&err, false)

	e, ref, ok, err := t.last()
	if err != nil {
		return e, 0, err
	}
	if !ok {
		return e, 0, ErrEntryNotFound
	}
	return e, ref, nil
}

func (t *BTree[K, V]) last() (e base.Entry[K, V], ref uint64, ok bool, err error) {
	if t.root == 0 {
		return e, 0, false, nil
	}

	n, err := t.node(t.root)
	if err != nil {
		return e, 0, false, err
	}
	for !n.Leaf {
		if n, err = t.node(n.Child(n.Size() - 1)); err != nil {
			return e, 0, false, err
		}
	}
	if n.Size() == 0 {
		return e, 0, false, nil
	}
	return n.Max(), n.Refs[n.Size()-1], true, nil
}
