package notification

import (
	"errors"
	"sync"

	"todocal/internal/utils"
)

// manager implements NotificationManager
type manager struct {
	channels        []NotificationChannel
	enabled         bool
	commandExecutor CommandExecutor
	platform        string
	sendCallback    func(Notification)

	mu         sync.Mutex
	permission Permission
}

// NewManager creates a new NotificationManager based on configuration
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{
		channels:   []NotificationChannel{},
		enabled:    cfg.Enabled,
		permission: PermissionDefault,
	}

	// Apply options first to get command executor
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		if m.platform != "" {
			osOpts = append(osOpts, WithPlatform(m.platform))
		}
		osChannel := NewOSNotificationChannel(&cfg.OSNotification, osOpts...)
		m.channels = append(m.channels, osChannel)
	}

	if cfg.LogNotification.Enabled {
		logChannel := NewLogNotificationChannel(&cfg.LogNotification)
		m.channels = append(m.channels, logChannel)
	}

	return m, nil
}

// RequestPermission resolves once whether any channel can deliver. The
// answer is remembered for the life of the manager.
func (m *manager) RequestPermission() Permission {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permission != PermissionDefault {
		return m.permission
	}

	m.permission = PermissionDenied
	if m.enabled {
		for _, ch := range m.channels {
			if ch.Available() {
				m.permission = PermissionGranted
				break
			}
		}
	}
	utils.Debugf("notification permission: %s", m.permission)
	return m.permission
}

// Send delivers n on every channel. A failing channel does not stop the
// others; their errors are joined.
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}

	if m.sendCallback != nil {
		m.sendCallback(n)
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every channel.
func (m *manager) Close() error {
	var errs []error
	for _, ch := range m.channels {
		errs = append(errs, ch.Close())
	}
	return errors.Join(errs...)
}

// ChannelCount returns the number of active channels
func (m *manager) ChannelCount() int {
	return len(m.channels)
}
