// Command blockriver runs a line-oriented command session against a block
// store of int64 pairs.
//
// Commands, one per line:
//
//	insert <key> <value>
//	delete <key> <value>
//	find <key>            values stored under key, or null
//	find <key> <value>    the pair, or null
//	print                 dump both files
//	clear
//	check                 verify the structure
//	stats
//	quit
//
// A first line holding a single number limits how many commands are read.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/alexhholmes/blockriver"
	"github.com/alexhholmes/blockriver/codec"
	"github.com/alexhholmes/blockriver/logger"
)

func main() {
	var (
		path     = flag.String("path", "blockriver.blk", "block file; the index is stored next to it")
		degree   = flag.Int("degree", blockriver.DefaultDegree, "index node fan-out")
		minSize  = flag.Int("min", blockriver.DefaultMinSize, "minimum entries per non-root index node")
		capacity = flag.Int("capacity", blockriver.DefaultBlockCapacity, "entries at which a data block splits")
		cache    = flag.Int("cache", blockriver.DefaultCacheSize, "pages cached per file")
		sync     = flag.String("sync", "on-close", "sync mode: on-close, every-op or off")
		backend  = flag.String("log", "logrus", "log backend: logrus or zap")
		verbose  = flag.Bool("v", false, "log at info level")
	)
	flag.Parse()

	mode, err := parseSyncMode(*sync)
	if err != nil {
		fatal(err)
	}

	log, flush, err := newLogger(*backend, *verbose)
	if err != nil {
		fatal(err)
	}

	store, err := blockriver.Open(*path, codec.Int[int64](), codec.Int[int64](),
		blockriver.WithDegree(*degree, *minSize),
		blockriver.WithBlockCapacity(*capacity),
		blockriver.WithCacheSize(*cache),
		blockriver.WithSyncMode(mode),
		blockriver.WithLogger(log),
	)
	if err != nil {
		fatal(err)
	}

	err = newSession(store, os.Stdout, log).run(os.Stdin)
	err = multierr.Combine(err, store.Close(), flush())
	if err != nil {
		fatal(err)
	}
}

func parseSyncMode(s string) (blockriver.SyncMode, error) {
	for _, mode := range []blockriver.SyncMode{blockriver.SyncOnClose, blockriver.SyncEveryOp, blockriver.SyncOff} {
		if mode.String() == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown sync mode %q", s)
}

// newLogger builds the session logger and a function flushing it on exit
func newLogger(backend string, verbose bool) (blockriver.Logger, func() error, error) {
	switch backend {
	case "logrus":
		level := logrus.WarnLevel
		if verbose {
			level = logrus.InfoLevel
		}
		return logger.NewConsole(os.Stderr, level, "blockriver"), func() error { return nil }, nil
	case "zap":
		cfg := zap.NewDevelopmentConfig()
		if !verbose {
			cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		}
		z, err := cfg.Build()
		if err != nil {
			return nil, nil, err
		}
		return logger.NewZap(z), func() error {
			// Syncing stderr fails on some terminals
			_ = z.Sync()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", backend)
	}
}

func fatal(val interface{}) {
	fmt.Fprintln(os.Stderr, val)
	os.Exit(1)
}
