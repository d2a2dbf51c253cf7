// Package prefetch issues read-ahead hints for records a scan is about to
// visit.
package prefetch

import "github.com/alexhholmes/blockriver/internal/base"

const (
	minDistance = 2
	maxDistance = 8
)

// Advisor receives read-ahead hints, typically a storage.File
type Advisor interface {
	WillNeed(id base.PageID) error
}

// Prefetcher hints the upcoming records of one sequential scan. The window
// starts at two records and grows by one for every step of a sustained scan,
// up to eight. A record is hinted at most once per scan.
type Prefetcher struct {
	file     Advisor
	distance int
	hinted   map[base.PageID]struct{}
}

// New creates a prefetcher for file
func New(file Advisor) *Prefetcher {
	return &Prefetcher{
		file:     file,
		distance: minDistance,
		hinted:   make(map[base.PageID]struct{}),
	}
}

// Trigger hints up to the current window of ids, in order, skipping ids
// already hinted during this scan. ids are record references as stored in
// the index.
func (p *Prefetcher) Trigger(ids []uint64) error {
	for i := 0; i < len(ids) && i < p.distance; i++ {
		id := base.PageID(ids[i])
		if _, ok := p.hinted[id]; ok {
			continue
		}
		p.hinted[id] = struct{}{}
		if err := p.file.WillNeed(id); err != nil {
			return err
		}
	}

	// Adaptive: widen the window for sustained sequential access
	if p.distance < maxDistance {
		p.distance++
	}
	return nil
}

// Distance returns the current window size
func (p *Prefetcher) Distance() int {
	return p.distance
}

// Reset starts a new scan
func (p *Prefetcher) Reset() {
	p.distance = minDistance
	clear(p.hinted)
}
