package freelist

import (
	"sort"

	"github.com/alexhholmes/blockriver/internal/base"
)

// Freelist tracks emptied page ids available for reuse. Ids are handed out
// lowest first so reused pages stay near the front of the file.
type Freelist struct {
	freed map[base.PageID]struct{}
	ids   []base.PageID // sorted ascending
}

// New creates a new Freelist with empty state
func New() *Freelist {
	return &Freelist{
		freed: make(map[base.PageID]struct{}),
	}
}

// Load replaces the contents with ids read from disk. Duplicates and the null
// id are ignored.
func (f *Freelist) Load(ids []uint64) {
	f.freed = make(map[base.PageID]struct{}, len(ids))
	f.ids = f.ids[:0]
	for _, id := range ids {
		f.Free(base.PageID(id))
	}
}

// Allocate returns a free page id, or 0 if none available.
func (f *Freelist) Allocate() base.PageID {
	if len(f.ids) == 0 {
		return 0
	}

	id := f.ids[0]
	f.ids = f.ids[1:]
	delete(f.freed, id)
	return id
}

// Free adds a page id to the free list
func (f *Freelist) Free(id base.PageID) {
	if id == 0 {
		return
	}
	// Map prevents duplicates
	if _, ok := f.freed[id]; ok {
		return
	}
	f.freed[id] = struct{}{}

	i := sort.Search(len(f.ids), func(i int) bool { return f.ids[i] >= id })
	f.ids = append(f.ids, 0)
	copy(f.ids[i+1:], f.ids[i:])
	f.ids[i] = id
}

// Contains reports whether id is currently free
func (f *Freelist) Contains(id base.PageID) bool {
	_, ok := f.freed[id]
	return ok
}

// Size returns number of free pages
func (f *Freelist) Size() int {
	return len(f.ids)
}

// IDs returns the free ids in ascending order, ready to be persisted
func (f *Freelist) IDs() []uint64 {
	out := make([]uint64, len(f.ids))
	for i, id := range f.ids {
		out[i] = uint64(id)
	}
	return out
}

// Reset drops every free id
func (f *Freelist) Reset() {
	f.freed = make(map[base.PageID]struct{})
	f.ids = nil
}
