package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Logger writes leveled lines to stderr. Debug lines only appear in
// verbose mode and carry a clock prefix so scheduler timing can be followed.
type Logger struct {
	mu    sync.Mutex
	min   Level
	out   io.Writer
	clock func() time.Time
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{min: LevelInfo, out: os.Stderr, clock: time.Now}
	})
	return loggerInstance
}

// SetVerboseMode toggles debug output on the process-wide logger.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if verbose {
		l.min = LevelDebug
	} else {
		l.min = LevelInfo
	}
}

// IsVerbose reports whether debug lines are written.
func (l *Logger) IsVerbose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.min == LevelDebug
}

// SetOutput redirects log output. A nil writer restores os.Stderr.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	l.out = w
}

// Log writes one line at the given level.
func (l *Logger) Log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.min {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if level == LevelDebug {
		_, _ = fmt.Fprintf(l.out, "%s [%s] %s\n", l.clock().Format("15:04:05"), level, msg)
		return
	}
	_, _ = fmt.Fprintf(l.out, "[%s] %s\n", level, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.Log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.Log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.Log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.Log(LevelError, format, args...) }

// Debugf logs through the process-wide logger.
func Debugf(format string, args ...interface{}) { GetLogger().Debug(format, args...) }

// Infof logs through the process-wide logger.
func Infof(format string, args ...interface{}) { GetLogger().Info(format, args...) }

// Warnf logs through the process-wide logger.
func Warnf(format string, args ...interface{}) { GetLogger().Warn(format, args...) }

// Errorf logs through the process-wide logger.
func Errorf(format string, args ...interface{}) { GetLogger().Error(format, args...) }

// BackgroundLogger is the file log of a long-running 'notify run' process.
// A disabled or unopenable log swallows every write.
type BackgroundLogger struct {
	mu     sync.Mutex
	logger *log.Logger
	file   *os.File
	path   string
}

// OpenBackgroundLog appends to path, creating its directory. When enabled is
// false the returned logger discards everything and err is nil. On failure
// the returned logger is still usable and discards.
func OpenBackgroundLog(path string, enabled bool) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{path: path, logger: log.New(io.Discard, "", 0)}
	if !enabled {
		return bl, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return bl, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return bl, fmt.Errorf("open background log: %w", err)
	}
	bl.file = f
	bl.logger = log.New(f, fmt.Sprintf("[%d] ", os.Getpid()), log.LstdFlags)
	return bl, nil
}

// Printf appends one line. Safe on a nil logger.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	if bl == nil {
		return
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.logger.Printf(format, args...)
}

// Close closes the file; later writes are dropped.
func (bl *BackgroundLogger) Close() {
	if bl == nil {
		return
	}
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.file != nil {
		_ = bl.file.Close()
		bl.file = nil
	}
	bl.logger = log.New(io.Discard, "", 0)
}

// Path returns the log file path.
func (bl *BackgroundLogger) Path() string {
	return bl.path
}

// IsEnabled reports whether writes reach a file.
func (bl *BackgroundLogger) IsEnabled() bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.file != nil
}
