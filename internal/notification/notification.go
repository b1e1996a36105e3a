// Package notification delivers due-task alerts through the desktop and a log file.
package notification

import (
	"fmt"
	"time"
)

// NotificationType identifies the type of notification
type NotificationType string

const (
	NotifyTaskDue NotificationType = "task_due"
	NotifyError   NotificationType = "error"
	NotifyTest    NotificationType = "test"
)

// TaskDueTitle is the title of every due-task notification.
const TaskDueTitle = "Todo Calendar - Task Due!"

// TagKey is the metadata key carrying the occurrence's instance key.
const TagKey = "tag"

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Timestamp time.Time
	Metadata  map[string]string
}

// Tag returns the de-duplication tag, if any.
func (n Notification) Tag() string {
	return n.Metadata[TagKey]
}

// TaskDue builds the notification for an occurrence that has come due.
func TaskDue(title, clock, instanceKey string, at time.Time) Notification {
	return Notification{
		Type:      NotifyTaskDue,
		Title:     TaskDueTitle,
		Message:   fmt.Sprintf("%q is scheduled for %s", title, clock),
		Timestamp: at,
		Metadata:  map[string]string{TagKey: instanceKey},
	}
}

// Permission is the outcome of asking whether notifications can be shown.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// NotificationManager is the interface for managing notifications
type NotificationManager interface {
	Send(n Notification) error
	RequestPermission() Permission
	Close() error
	ChannelCount() int
}

// NotificationChannel is the interface for a notification channel
type NotificationChannel interface {
	Send(n Notification) error
	// Available reports whether the channel can deliver at all.
	Available() bool
	Close() error
}

// Config holds the notification configuration
type Config struct {
	Enabled         bool
	OSNotification  OSNotificationConfig
	LogNotification LogNotificationConfig
}

// OSNotificationConfig holds OS notification configuration
type OSNotificationConfig struct {
	Enabled   bool
	OnTaskDue bool
	OnError   bool
}

// LogNotificationConfig holds log notification configuration
type LogNotificationConfig struct {
	Enabled   bool
	Path      string
	MaxSizeMB int
}

// CommandExecutor is the interface for executing system commands
type CommandExecutor interface {
	Execute(cmd string, args ...string) error
	// LookPath reports whether cmd can be found.
	LookPath(cmd string) bool
}

// MockCommandExecutor is a mock implementation of CommandExecutor for testing
type MockCommandExecutor struct {
	ExecuteFunc  func(cmd string, args ...string) error
	LookPathFunc func(cmd string) bool
}

// Execute implements CommandExecutor
func (m *MockCommandExecutor) Execute(cmd string, args ...string) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(cmd, args...)
	}
	return nil
}

// LookPath implements CommandExecutor. Without LookPathFunc every command exists.
func (m *MockCommandExecutor) LookPath(cmd string) bool {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(cmd)
	}
	return true
}

// Option is a functional option for configuring notification channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform sets the platform for OS notifications
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
		if mgr, ok := c.(*manager); ok {
			mgr.platform = platform
		}
	}
}

// WithSendCallback sets a callback to be called when a notification is sent
func WithSendCallback(callback func(Notification)) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.sendCallback = callback
		}
		if mgr, ok := c.(*manager); ok {
			mgr.sendCallback = callback
		}
	}
}
