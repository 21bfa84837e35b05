package logger

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper that holds both the raw zap.Logger and its
// "Sugared" counterpart for convenience.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger

	closeOnce sync.Once
	closeSink func()
}

// New creates a new logger based on the provided log level string.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
//
// Entries are written to path, or to stderr when path is empty. The table
// owns stdout, so the logger never writes there.
func New(level, path string) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", level)
	}

	sink := zapcore.Lock(zapcore.AddSync(os.Stderr))
	closeSink := func() {}
	if path != "" {
		ws, closeFile, err := zap.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", path)
		}
		sink, closeSink = ws, closeFile
	}

	l := newWithSink(zapLevel, sink)
	l.closeSink = closeSink
	return l, nil
}

func newWithSink(level zapcore.Level, sink zapcore.WriteSyncer) *Logger {
	// Encoder configuration - JSON, ISO-8601 timestamps, capital level
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)

	zapLogger := zap.New(core, zap.AddCaller())
	return &Logger{
		Logger:        zapLogger,
		SugaredLogger: zapLogger.Sugar(),
	}
}

// Close flushes the logger and releases the log file, if any. Later calls
// do nothing.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		Flush(l.Logger)
		if l.closeSink != nil {
			l.closeSink()
		}
	})
}

// Flush forces any buffered log entries to be written.
// Call this from `main` just before the program exits.
func Flush(l *zap.Logger) {
	// Sync on a terminal stderr returns "invalid argument" on some
	// platforms; there is nothing useful to do with it at exit.
	_ = l.Sync()
}
