// Package logger adapts logrus and zap to blockriver.Logger.
//
// NewConsole is the logrus setup used by the blockriver command: prefixed,
// timestamped lines on a writer, warnings only unless verbose. NewZap wraps
// an existing zap logger; NewLogrus wraps an existing logrus logger.
// A *slog.Logger satisfies blockriver.Logger without an adapter.
//
//	var log blockriver.Logger
//	switch backend {
//	case "logrus":
//	    log = logger.NewConsole(os.Stderr, logrus.InfoLevel, "blockriver")
//	case "zap":
//	    z, err := zap.NewDevelopmentConfig().Build()
//	    if err != nil {
//	        return err
//	    }
//	    defer z.Sync()
//	    log = logger.NewZap(z)
//	}
//
//	store, err := blockriver.Open("data.blk", codec.Int[int64](), codec.Int[int64](),
//	    blockriver.WithLogger(log),
//	)
package logger
