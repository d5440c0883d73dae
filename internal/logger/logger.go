package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// Environment variables configuring the log target and level.
const (
	envLogPath  = "MLOG_LOG"
	envLogLevel = "MLOG_LOG_LEVEL"
)

// Stderr is the log path that selects standard error instead of a file.
const Stderr = "stderr"

var (
	mu      sync.Mutex
	std     = newLogger(os.Stderr)
	logFile *os.File
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"})
	return l
}

// InitFromEnv initializes the logger using MLOG_LOG and MLOG_LOG_LEVEL.
// defaultPath is used when MLOG_LOG is unset.
func InitFromEnv(defaultPath string) error {
	path := os.Getenv(envLogPath)
	if path == "" {
		path = defaultPath
	}
	if err := Init(path); err != nil {
		return err
	}
	if lvl := os.Getenv(envLogLevel); lvl != "" {
		return SetLevel(lvl)
	}
	return nil
}

// Init directs output to the file at path, or to standard error when path is
// empty or Stderr. It creates parent directories and appends to existing files.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if path == "" || path == Stderr {
		closeFile()
		std.SetOutput(os.Stderr)
		return nil
	}
	if err := ensureParentDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	closeFile()
	logFile = f
	std.SetOutput(f)
	return nil
}

// SetLevel parses a logrus level name ("debug", "info", ...).
func SetLevel(level string) error {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	std.SetLevel(l)
	return nil
}

// SetOutput redirects the logger, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	closeFile()
	std.SetOutput(w)
}

// Close closes the underlying log file, if open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		std.SetOutput(os.Stderr)
		return err
	}
	return nil
}

// L returns the underlying logger.
func L() *logrus.Logger { return std }

// WithFields starts a structured entry.
func WithFields(fields logrus.Fields) *logrus.Entry { return std.WithFields(fields) }

// Debugf logs verbose diagnostics.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs informational messages.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warnf logs warnings.
func Warnf(format string, args ...any) { std.Warnf(format, args...) }

// Errorf logs errors.
func Errorf(format string, args ...any) { std.Errorf(format, args...) }

func closeFile() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
