package notification

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logTimeLayout is UTC so log lines sort the same on every machine.
const logTimeLayout = "2006-01-02T15:04:05Z"

// logNotificationChannel appends one line per notification:
//
//	2024-03-05T08:00:00Z [TASK_DUE] "Standup" is scheduled for 09:00 (1-2024-03-05)
//
// When the file grows past MaxSizeMB it is moved to <path>.old.
type logNotificationChannel struct {
	config *LogNotificationConfig

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewLogNotificationChannel creates a new log notification channel
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{config: cfg}
}

func formatLogLine(n Notification) string {
	var b strings.Builder
	b.WriteString(n.Timestamp.UTC().Format(logTimeLayout))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(string(n.Type)))
	b.WriteString("] ")
	b.WriteString(n.Message)
	if tag := n.Tag(); tag != "" {
		b.WriteString(" (" + tag + ")")
	}
	b.WriteByte('\n')
	return b.String()
}

// Send appends the notification, rotating first if the file is full.
func (c *logNotificationChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := formatLogLine(n)
	if c.file != nil && c.full(int64(len(line))) {
		if err := c.rotate(); err != nil {
			return err
		}
	}
	if c.file == nil {
		if err := c.open(); err != nil {
			return err
		}
	}

	written, err := c.file.WriteString(line)
	c.size += int64(written)
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return c.file.Sync()
}

// Available reports whether the log directory can be created.
func (c *logNotificationChannel) Available() bool {
	return c.config.Path != "" && os.MkdirAll(filepath.Dir(c.config.Path), 0755) == nil
}

func (c *logNotificationChannel) full(extra int64) bool {
	limit := int64(c.config.MaxSizeMB) * 1024 * 1024
	return limit > 0 && c.size+extra > limit
}

// open opens the log for appending; an existing file that is already over
// the limit is rotated first.
func (c *logNotificationChannel) open() error {
	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if info, err := os.Stat(c.config.Path); err == nil {
		c.size = info.Size()
		if c.full(0) {
			if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil {
				return fmt.Errorf("failed to rotate log file: %w", err)
			}
			c.size = 0
		}
	}

	f, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	c.file = f
	return nil
}

func (c *logNotificationChannel) rotate() error {
	_ = c.file.Close()
	c.file = nil
	if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	c.size = 0
	return nil
}

// Close closes the log file
func (c *logNotificationChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// ReadLog returns the entries of the log at path, oldest first. A positive
// limit keeps only the newest limit entries. A missing log has no entries.
func ReadLog(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	return entries, scanner.Err()
}

// ClearLog empties the log and drops its rotated copy.
func ClearLog(path string) error {
	if err := os.Remove(path + ".old"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, nil, 0644)
}
