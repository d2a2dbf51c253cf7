package prefetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexhholmes/blockriver/internal/base"
)

type recorder struct {
	ids  []base.PageID
	fail base.PageID
}

func (r *recorder) WillNeed(id base.PageID) error {
	if id == r.fail {
		return errors.New("advise failed")
	}
	r.ids = append(r.ids, id)
	return nil
}

func TestPrefetchWindowGrows(t *testing.T) {
	rec := &recorder{}
	p := New(rec)

	require.NoError(t, p.Trigger([]uint64{1, 2, 3, 4}))
	assert.Equal(t, []base.PageID{1, 2}, rec.ids)
	assert.Equal(t, 3, p.Distance())

	// Already hinted ids are skipped, the window now reaches 4
	require.NoError(t, p.Trigger([]uint64{2, 3, 4, 5}))
	assert.Equal(t, []base.PageID{1, 2, 3, 4}, rec.ids)

	for i := 0; i < 20; i++ {
		require.NoError(t, p.Trigger(nil))
	}
	assert.Equal(t, maxDistance, p.Distance())
}

func TestPrefetchReset(t *testing.T) {
	rec := &recorder{}
	p := New(rec)

	require.NoError(t, p.Trigger([]uint64{1, 2}))
	p.Reset()
	assert.Equal(t, minDistance, p.Distance())

	require.NoError(t, p.Trigger([]uint64{1}))
	assert.Equal(t, []base.PageID{1, 2, 1}, rec.ids, "a new scan hints again")
}

func TestPrefetchError(t *testing.T) {
	rec := &recorder{fail: 2}
	p := New(rec)

	assert.Error(t, p.Trigger([]uint64{1, 2}))
	assert.Equal(t, []base.PageID{1}, rec.ids)
}
