package freelist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexhholmes/blockriver/internal/base"
)

func TestFreelistAllocateLowestFirst(t *testing.T) {
	t.Parallel()

	f := New()
	assert.Equal(t, base.PageID(0), f.Allocate(), "empty freelist allocates nothing")

	f.Free(7)
	f.Free(3)
	f.Free(5)
	f.Free(3) // duplicate ignored
	f.Free(0) // null id ignored

	assert.Equal(t, 3, f.Size())
	assert.True(t, f.Contains(5))
	assert.Equal(t, []uint64{3, 5, 7}, f.IDs())

	assert.Equal(t, base.PageID(3), f.Allocate())
	assert.Equal(t, base.PageID(5), f.Allocate())
	assert.False(t, f.Contains(5))
	assert.Equal(t, base.PageID(7), f.Allocate())
	assert.Equal(t, base.PageID(0), f.Allocate())
}

func TestFreelistLoad(t *testing.T) {
	t.Parallel()

	f := New()
	f.Free(100)
	f.Load([]uint64{9, 2, 9, 0, 4})

	assert.Equal(t, []uint64{2, 4, 9}, f.IDs())
	assert.False(t, f.Contains(100))

	f.Reset()
	assert.Zero(t, f.Size())
	assert.Empty(t, f.IDs())
}
