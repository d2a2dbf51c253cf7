package logger

import (
	"io"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/alexhholmes/blockriver"
)

// Logrus wraps a logrus.Logger to implement blockriver.Logger.
type Logrus struct {
	entry *logrus.Entry
}

// NewLogrus creates a blockriver.Logger from a logrus.Logger.
func NewLogrus(logger *logrus.Logger) blockriver.Logger {
	return &Logrus{entry: logrus.NewEntry(logger)}
}

// NewConsole creates a logrus-backed blockriver.Logger writing human readable
// lines to out. Every line carries prefix, rendered by the prefixed formatter.
func NewConsole(out io.Writer, level logrus.Level, prefix string) blockriver.Logger {
	l := &logrus.Logger{
		Out:   out,
		Level: level,
		Hooks: make(logrus.LevelHooks),
		Formatter: &prefixed.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			ForceFormatting: true,
		},
	}
	return &Logrus{entry: l.WithField("prefix", prefix)}
}

// Error logs an error message with key-value pairs.
func (l *Logrus) Error(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Error(msg)
}

// Warn logs a warning message with key-value pairs.
func (l *Logrus) Warn(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Warn(msg)
}

// Info logs an info message with key-value pairs.
func (l *Logrus) Info(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Info(msg)
}

func argsToFields(args []any) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
