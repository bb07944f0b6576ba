// Package log provides logging to both console and a rotating log file.
//
// Components take a zerolog.Logger in their options; CLI code keeps using
// the package-level Printf/Errorf helpers.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Dir holds fieldsync.log. Empty disables the file sink.
	Dir string
	// Level is a zerolog level name ("debug", "info", ...). Defaults to info.
	Level string
	// Console also writes human-readable output to this writer (nil = none).
	Console io.Writer
	// MaxSizeMB and MaxBackups bound the rotated files.
	MaxSizeMB  int
	MaxBackups int
}

// Logger writes structured output to a rotating file and optionally the
// console.
type Logger struct {
	zl   zerolog.Logger
	file *lumberjack.Logger
	out  io.Writer
}

// New creates a logger from opts.
func New(opts Options) (*Logger, error) {
	var writers []io.Writer
	var file *lumberjack.Logger

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := opts.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "fieldsync.log"),
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		writers = append(writers, file)
	}

	if opts.Console != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: "15:04:05"})
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return &Logger{
		zl:   zerolog.New(out).Level(level).With().Timestamp().Logger(),
		file: file,
		out:  out,
	}, nil
}

// Zerolog returns the underlying structured logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Printf writes a formatted info message.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Errorf writes a formatted error message.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init initializes the global logger writing to logDir.
// Also redirects Go's standard log package to the same file so stray
// log.Printf calls from dependencies do not corrupt terminal output.
func Init(logDir string, level string) error {
	logger, err := New(Options{Dir: logDir, Level: level})
	if err != nil {
		return err
	}

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	stdlog.SetOutput(logger.out)
	stdlog.SetFlags(stdlog.Ldate | stdlog.Ltime)

	return nil
}

// SetGlobal replaces the global logger. Used by tests and by hosts that
// build their own Logger.
func SetGlobal(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// L returns the global structured logger, or a disabled one before Init.
func L() zerolog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return zerolog.Nop()
	}
	return globalLogger.zl
}

// Printf uses the global logger to write a formatted info message.
func Printf(format string, args ...interface{}) {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Errorf uses the global logger to write a formatted error message; before
// Init it falls back to stderr.
func Errorf(format string, args ...interface{}) {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		l.Errorf(format, args...)
	} else {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// Close closes the global logger.
func Close() error {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l.Close()
	}
	return nil
}
