package blockriver

import "fmt"

// SyncMode controls when writes are flushed to stable storage
type SyncMode int

const (
	// SyncOnClose flushes dirty pages and fdatasyncs only on Sync and Close.
	// - Pages are written back as they are evicted
	// - Everything since the last Sync is at risk on crash
	// - Use for: General purpose applications
	SyncOnClose SyncMode = iota

	// SyncEveryOp flushes every dirty page and fdatasyncs after each
	// mutating operation.
	// - Limited by fsync latency
	// - Use for: Small indexes where every change matters
	SyncEveryOp

	// SyncOff never fdatasyncs. Dirty pages still reach the file on eviction
	// and Close.
	// - Use for: Testing, bulk imports with external durability
	SyncOff
)

func (m SyncMode) String() string {
	switch m {
	case SyncOnClose:
		return "on-close"
	case SyncEveryOp:
		return "every-op"
	case SyncOff:
		return "off"
	default:
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
}

const (
	DefaultDegree        = 64
	DefaultMinSize       = 16
	DefaultCacheSize     = 1024
	DefaultBlockCapacity = 56
	MinBlockCapacity     = 4
)

// Options configures index and store behavior.
type Options struct {
	degree        int // Node fan-out. A node splits when it reaches degree entries.
	minSize       int // Non-root nodes rebalance below minSize entries.
	cacheSize     int // Pages kept in memory per file.
	blockCapacity int // A data block splits when it reaches blockCapacity entries.
	syncMode      SyncMode
	logger        Logger
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		degree:        DefaultDegree,
		minSize:       DefaultMinSize,
		cacheSize:     DefaultCacheSize,
		blockCapacity: DefaultBlockCapacity,
		syncMode:      SyncOnClose,
		logger:        DiscardLogger{},
	}
}

// Option configures options using the functional options pattern.
type Option func(*Options)

// WithDegree sets the node fan-out and the minimum occupancy of non-root
// nodes. degree must be at least 3 and minSize in [1, degree/2].
//
//goland:noinspection GoUnusedExportedFunction
func WithDegree(degree, minSize int) Option {
	return func(opts *Options) {
		opts.degree = degree
		opts.minSize = minSize
	}
}

// WithCacheSize sets how many decoded pages are kept in memory per file.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(pages int) Option {
	return func(opts *Options) {
		opts.cacheSize = pages
	}
}

// WithBlockCapacity sets the number of entries at which a data block splits.
//
//goland:noinspection GoUnusedExportedFunction
func WithBlockCapacity(n int) Option {
	return func(opts *Options) {
		opts.blockCapacity = n
	}
}

// WithSyncMode sets the durability mode.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncMode(mode SyncMode) Option {
	return func(opts *Options) {
		opts.syncMode = mode
	}
}

// WithLogger sets the logger. A nil logger discards everything.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		if l == nil {
			l = DiscardLogger{}
		}
		opts.logger = l
	}
}

func buildOptions(opts []Option) (Options, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o, o.validate()
}

func (o Options) validate() error {
	switch {
	case o.degree < 3:
		return fmt.Errorf("%w: degree %d is below 3", ErrInvalidOptions, o.degree)
	case o.minSize < 1 || o.minSize > o.degree/2:
		return fmt.Errorf("%w: min size %d outside [1, %d]", ErrInvalidOptions, o.minSize, o.degree/2)
	case o.blockCapacity < MinBlockCapacity:
		return fmt.Errorf("%w: block capacity %d is below %d", ErrInvalidOptions, o.blockCapacity, MinBlockCapacity)
	case o.syncMode < SyncOnClose || o.syncMode > SyncOff:
		return fmt.Errorf("%w: unknown sync mode %d", ErrInvalidOptions, int(o.syncMode))
	}
	return nil
}
