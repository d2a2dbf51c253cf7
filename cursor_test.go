package blockriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/blockriver/internal/base"
)

func TestCursorSequentialScan(t *testing.T) {
	t.Parallel()

	bt, _ := setup(t, WithDegree(4, 1), WithCacheSize(4))
	for i := int32(99); i >= 0; i-- {
		require.NoError(t, bt.Insert(i, 0, uint64(i)))
	}

	c := &cursor[int32, int32]{t: bt, unpin: true}
	require.NoError(t, c.first())

	var keys []int32
	for c.valid() {
		e, ref := c.entry()
		assert.Equal(t, uint64(e.Key), ref)
		keys = append(keys, e.Key)
		require.NoError(t, c.next())
	}
	require.NoError(t, bt.cache.Release())

	require.Len(t, keys, 100)
	for i, k := range keys {
		assert.Equal(t, int32(i), k)
	}
}

func TestCursorSeek(t *testing.T) {
	t.Parallel()

	bt, _ := setup(t, WithDegree(6, 2))
	for i := int32(0); i < 30; i++ {
		require.NoError(t, bt.Insert(i, i, 0))
	}

	// (2, 3) sorts after every entry of key 2, so the cursor lands on key 3
	c := &cursor[int32, int32]{t: bt}
	require.NoError(t, c.seek(base.Entry[int32, int32]{Key: 2, Value: 3}, bt.order.Compare))
	require.True(t, c.valid())
	e, _ := c.entry()
	assert.Equal(t, pair(3, 3), e)

	// A leaf maximum followed by the next leaf's first entry
	root := rootNode(t, bt)
	first, err := bt.node(root.Child(0))
	require.NoError(t, err)
	for !first.Leaf {
		first, err = bt.node(first.Child(0))
		require.NoError(t, err)
	}
	boundary := first.Max()

	require.NoError(t, c.seek(base.Entry[int32, int32]{Key: boundary.Key, Value: boundary.Value + 1}, bt.order.Compare))
	require.True(t, c.valid())
	e, _ = c.entry()
	assert.Equal(t, pair(boundary.Key+1, boundary.Value+1), e)
	require.NoError(t, bt.cache.Release())
}

func TestCursorEmptyTree(t *testing.T) {
	t.Parallel()

	bt, _ := setup(t)

	c := &cursor[int32, int32]{t: bt}
	require.NoError(t, c.first())
	assert.False(t, c.valid())
	require.NoError(t, c.seek(base.Entry[int32, int32]{}, bt.order.CompareKey))
	assert.False(t, c.valid())

	// A root emptied by removals behaves the same
	require.NoError(t, bt.Insert(1, 1, 1))
	require.NoError(t, bt.Remove(1, 1))
	require.NoError(t, c.first())
	assert.False(t, c.valid())
	require.NoError(t, bt.cache.Release())
}
