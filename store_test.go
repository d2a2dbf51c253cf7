package blockriver

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/blockriver/codec"
	"github.com/alexhholmes/blockriver/internal/cache"
)

// Helper to create a store over int32 pairs in a temporary directory
func setupStore(t *testing.T, opts ...Option) (*Store[int32, int32], string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.blk")
	s, err := Open(path, codec.Int[int32](), codec.Int[int32](), opts...)
	require.NoError(t, err, "Failed to open store")

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s, path
}

func reopenStore(t *testing.T, s *Store[int32, int32], path string, opts ...Option) *Store[int32, int32] {
	t.Helper()

	require.NoError(t, s.Close())
	s, err := Open(path, codec.Int[int32](), codec.Int[int32](), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

// registrations lists the index entries and the blocks they name
func registrations(t *testing.T, s *Store[int32, int32]) ([]Entry[int32, int32], []uint64) {
	t.Helper()

	var (
		bounds []Entry[int32, int32]
		refs   []uint64
	)
	require.NoError(t, s.index.Ascend(-1<<31, func(e Entry[int32, int32], ref uint64) bool {
		bounds = append(bounds, e)
		refs = append(refs, ref)
		return true
	}))
	return bounds, refs
}

func TestStoreBasicOps(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t)

	st, err := s.Insert(1, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	st, err = s.Insert(1, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusExists, st)

	st, err = s.Insert(1, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	values, err := s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 10}, values)

	ok, err := s.Contains(1, 5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Contains(1, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	st, err = s.Remove(1, 6)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, st)

	st, err = s.Remove(1, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	values, err = s.Find(1)
	require.NoError(t, err)
	assert.Equal(t, []int32{5}, values)

	_, err = s.Find(2)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	require.NoError(t, s.Verify())
}

func TestStoreSplitAtCapacity(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t)

	for i := int32(1); i <= 57; i++ {
		st, err := s.Insert(i, i)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
	}

	assert.Equal(t, uint64(2), s.Stats().Blocks.Records)
	bounds, refs := registrations(t, s)
	require.Len(t, bounds, 2)
	assert.Equal(t, []Entry[int32, int32]{pair(28, 28), pair(57, 57)}, bounds)

	// The lower half stays in the first block
	assert.Equal(t, []uint64{1, 2}, refs)
	require.NoError(t, s.Verify())
}

func TestStoreNewMaximumMovesRegistration(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t, WithBlockCapacity(4))

	_, err := s.Insert(10, 0)
	require.NoError(t, err)
	_, err = s.Insert(20, 0)
	require.NoError(t, err)

	bounds, _ := registrations(t, s)
	assert.Equal(t, []Entry[int32, int32]{pair(20, 0)}, bounds)

	_, err = s.Insert(5, 0)
	require.NoError(t, err)
	bounds, _ = registrations(t, s)
	assert.Equal(t, []Entry[int32, int32]{pair(20, 0)}, bounds, "smaller entries keep the registration")
	require.NoError(t, s.Verify())
}

func TestStoreRemoveBoundary(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t, WithBlockCapacity(4))
	for i := int32(1); i <= 6; i++ {
		_, err := s.Insert(i, 0)
		require.NoError(t, err)
	}
	bounds, refs := registrations(t, s)
	require.Equal(t, []Entry[int32, int32]{pair(2, 0), pair(4, 0), pair(6, 0)}, bounds)

	// Removing a block maximum re-registers the entry below it
	st, err := s.Remove(4, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	after, afterRefs := registrations(t, s)
	assert.Equal(t, []Entry[int32, int32]{pair(2, 0), pair(3, 0), pair(6, 0)}, after)
	assert.Equal(t, refs, afterRefs)
	require.NoError(t, s.Verify())

	// Emptying a block drops its registration
	_, err = s.Remove(3, 0)
	require.NoError(t, err)
	after, _ = registrations(t, s)
	assert.Equal(t, []Entry[int32, int32]{pair(2, 0), pair(6, 0)}, after)
	require.NoError(t, s.Verify())

	values, err := s.Find(5)
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, values)
}

func TestStoreFindSpansBlocks(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t, WithBlockCapacity(4), WithDegree(4, 1))

	for v := int32(0); v < 40; v++ {
		for _, k := range []int32{1, 2, 3} {
			_, err := s.Insert(k, v)
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.Verify())

	for _, k := range []int32{1, 2, 3} {
		values, err := s.Find(k)
		require.NoError(t, err)
		require.Len(t, values, 40, "key %d", k)
		for i, v := range values {
			assert.Equal(t, int32(i), v)
		}
	}

	_, err := s.Find(0)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = s.Find(4)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreRandomWorkload(t *testing.T) {
	t.Parallel()

	s, path := setupStore(t, WithBlockCapacity(8), WithDegree(6, 2), WithCacheSize(4))

	rng := rand.New(rand.NewSource(5))
	model := make(map[[2]int32]bool)

	for i := 0; i < 3000; i++ {
		k, v := int32(rng.Intn(50)), int32(rng.Intn(40))
		if rng.Intn(3) == 0 {
			st, err := s.Remove(k, v)
			require.NoError(t, err)
			if model[[2]int32{k, v}] {
				assert.Equal(t, StatusOK, st)
			} else {
				assert.Equal(t, StatusNotFound, st)
			}
			delete(model, [2]int32{k, v})
			continue
		}

		st, err := s.Insert(k, v)
		require.NoError(t, err)
		if model[[2]int32{k, v}] {
			assert.Equal(t, StatusExists, st)
		} else {
			assert.Equal(t, StatusOK, st)
		}
		model[[2]int32{k, v}] = true

		if i%250 == 0 {
			require.NoError(t, s.Verify())
		}
	}
	require.NoError(t, s.Verify())

	check := func(s *Store[int32, int32]) {
		for k := int32(0); k < 50; k++ {
			var want []int32
			for v := int32(0); v < 40; v++ {
				if model[[2]int32{k, v}] {
					want = append(want, v)
				}
			}

			got, err := s.Find(k)
			if len(want) == 0 {
				assert.ErrorIs(t, err, ErrKeyNotFound)
				continue
			}
			require.NoError(t, err)
			assert.Equal(t, want, got, "key %d", k)
		}
	}
	check(s)

	s = reopenStore(t, s, path, WithBlockCapacity(8), WithDegree(6, 2))
	require.NoError(t, s.Verify())
	check(s)
}

func TestStoreMixedWorkload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		degree, minSize int
	}{
		{3, 1},
		{4, 1},
		{4, 2},
		{6, 2},
		{6, 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("degree_%d_min_%d", tt.degree, tt.minSize), func(t *testing.T) {
			t.Parallel()

			opts := []Option{
				WithDegree(tt.degree, tt.minSize),
				WithBlockCapacity(MinBlockCapacity),
				WithCacheSize(cache.MinCacheSize),
			}
			s, path := setupStore(t, opts...)

			rng := rand.New(rand.NewSource(int64(tt.degree*10 + tt.minSize)))
			model := make(map[[2]int32]bool)

			for i := 0; i < 1500; i++ {
				k, v := int32(rng.Intn(40)), int32(rng.Intn(8))
				present := model[[2]int32{k, v}]

				if rng.Intn(2) == 0 {
					st, err := s.Remove(k, v)
					require.NoError(t, err, "op %d: remove (%d,%d)", i, k, v)
					if present {
						require.Equal(t, StatusOK, st, "op %d", i)
					} else {
						require.Equal(t, StatusNotFound, st, "op %d", i)
					}
					delete(model, [2]int32{k, v})
				} else {
					st, err := s.Insert(k, v)
					require.NoError(t, err, "op %d: insert (%d,%d)", i, k, v)
					if present {
						require.Equal(t, StatusExists, st, "op %d", i)
					} else {
						require.Equal(t, StatusOK, st, "op %d", i)
					}
					model[[2]int32{k, v}] = true
				}

				require.NoError(t, s.Verify(), "op %d on (%d,%d)", i, k, v)

				var want []int32
				for v := int32(0); v < 8; v++ {
					if model[[2]int32{k, v}] {
						want = append(want, v)
					}
				}
				got, err := s.Find(k)
				if len(want) == 0 {
					require.ErrorIs(t, err, ErrKeyNotFound, "op %d: key %d", i, k)
				} else {
					require.NoError(t, err)
					require.Equal(t, want, got, "op %d: key %d", i, k)
				}

				if i%97 == 96 {
					s = reopenStore(t, s, path, opts...)
				}
			}
		})
	}
}

func TestStoreRemoveAllThenBootstrap(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t, WithBlockCapacity(4))
	for i := int32(0); i < 20; i++ {
		_, err := s.Insert(i, 0)
		require.NoError(t, err)
	}
	require.Greater(t, s.Stats().Blocks.Records, uint64(1))

	for i := int32(0); i < 20; i++ {
		st, err := s.Remove(i, 0)
		require.NoError(t, err)
		require.Equal(t, StatusOK, st)
	}
	empty, err := s.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	// The next insert starts over with a single block
	_, err = s.Insert(7, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Stats().Blocks.Records)
	require.NoError(t, s.Verify())
}

func TestStoreAbsentRemoveIsNoop(t *testing.T) {
	t.Parallel()

	s, path := setupStore(t, WithBlockCapacity(4))
	for i := int32(0); i < 30; i += 2 {
		_, err := s.Insert(i, 0)
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	blocks, err := os.ReadFile(path)
	require.NoError(t, err)
	index, err := os.ReadFile(path + IndexSuffix)
	require.NoError(t, err)

	s = reopenStore(t, s, path, WithBlockCapacity(4))
	for _, k := range []int32{-5, 1, 13, 29, 100} {
		st, err := s.Remove(k, 0)
		require.NoError(t, err)
		assert.Equal(t, StatusNotFound, st)
	}
	require.NoError(t, s.Close())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(blocks, after), "block file changed")
	after, err = os.ReadFile(path + IndexSuffix)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(index, after), "index file changed")
}

func TestStoreClear(t *testing.T) {
	t.Parallel()

	s, path := setupStore(t)
	for i := int32(0); i < 100; i++ {
		_, err := s.Insert(i, i)
		require.NoError(t, err)
	}
	require.NoError(t, s.Clear())

	stats := s.Stats()
	assert.Zero(t, stats.Blocks.Records)
	assert.Zero(t, stats.Index.Records)

	_, err := s.Find(1)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = s.Insert(1, 1)
	require.NoError(t, err)
	s = reopenStore(t, s, path)
	ok, err := s.Contains(1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreDump(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t, WithBlockCapacity(4))
	for i := int32(1); i <= 5; i++ {
		_, err := s.Insert(i, i*10)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf))

	out := buf.String()
	assert.Contains(t, out, "blocks=2")
	assert.Contains(t, out, "1: (1,10) (2,20)")
	assert.Contains(t, out, "2: (3,30) (4,40) (5,50)")
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()

	s, _ := setupStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Insert(1, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Find(1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Verify(), ErrClosed)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "exists", StatusExists.String())
	assert.Equal(t, "not found", StatusNotFound.String())
	assert.Equal(t, "Status(7)", Status(7).String())
}
