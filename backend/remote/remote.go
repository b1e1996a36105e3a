// Package remote provides a TaskStore backed by the todocal REST service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"todocal/backend"
	"todocal/internal/calendar"
	"todocal/internal/ratelimit"
	"todocal/internal/utils"
)

const (
	// DefaultBaseURL is the service root used when none is configured
	DefaultBaseURL = "http://localhost:3001/api"
)

// TokenSource yields the bearer token for each request.
type TokenSource func(ctx context.Context) (string, error)

// Config holds remote connection settings
type Config struct {
	BaseURL           string
	Token             TokenSource
	RequestsPerSecond float64
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration

	// BreakerThreshold consecutive failures make requests fail fast for
	// BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	Now              func() time.Time
}

// Backend implements backend.TaskStore over HTTP/JSON
type Backend struct {
	config  Config
	client  *ratelimit.Client
	baseURL string
	stats   *ratelimit.Stats
	breaker *breaker
}

// New creates a new remote backend
func New(cfg Config) (*Backend, error) {
	if cfg.Token == nil {
		return nil, fmt.Errorf("remote token source is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	stats := ratelimit.NewStats()
	var br *breaker
	if cfg.BreakerThreshold > 0 {
		br = newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, cfg.Now)
	}
	return &Backend{
		config:  cfg,
		baseURL: baseURL,
		stats:   stats,
		breaker: br,
		client: ratelimit.NewClient(ratelimit.Config{
			MaxRetries:        cfg.MaxRetries,
			BaseDelay:         cfg.RetryDelay,
			EnableJitter:      true,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Timeout:           cfg.Timeout,
			Stats:             stats,
			Backend:           "remote",
		}),
	}, nil
}

// Stats returns the rate limit counters of this backend.
func (b *Backend) Stats() *ratelimit.Stats {
	return b.stats
}

// Circuit returns the breaker state; always closed when the breaker is disabled.
func (b *Backend) Circuit() CircuitState {
	return b.breaker.current()
}

// Close closes the backend
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// Request bodies of the service protocol.
type (
	createRequest struct {
		DateKey calendar.DateKey  `json:"dateKey"`
		Task    calendar.Template `json:"task"`
	}
	updateRequest struct {
		DateKey   calendar.DateKey  `json:"dateKey"`
		TaskIndex int               `json:"taskIndex"`
		Task      calendar.Template `json:"task"`
	}
	deleteRequest struct {
		DateKey   calendar.DateKey `json:"dateKey"`
		TaskIndex int              `json:"taskIndex"`
	}
	completionsRequest struct {
		Completions calendar.Overlay `json:"completions"`
	}
)

// do performs an authenticated request and classifies failures. On success
// the caller owns the response body.
func (b *Backend) do(ctx context.Context, op, method, path string, body any) (*http.Response, error) {
	token, err := b.config.Token(ctx)
	if err != nil {
		utils.Debugf("remote %s: no usable token: %v", op, err)
		return nil, &backend.AuthExpiredError{Op: op}
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")

	if !b.breaker.allow() {
		utils.Debugf("remote %s: circuit open", op)
		return nil, &backend.TransportError{Op: op, Err: ErrCircuitOpen}
	}

	utils.Debugf("remote %s: %s %s", op, method, path)
	resp, err := b.client.Do(ctx, method, b.baseURL+path, bodyReader, header)
	if err != nil {
		b.breaker.failure()
		return nil, &backend.TransportError{Op: op, Err: err}
	}
	if resp.StatusCode >= 500 {
		b.breaker.failure()
	} else {
		b.breaker.success()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = resp.Body.Close()
		return nil, &backend.AuthExpiredError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := readErrorMessage(resp.Body)
		_ = resp.Body.Close()
		var cause error
		if msg != "" {
			cause = errors.New(msg)
		}
		return nil, &backend.TransportError{Op: op, Status: resp.StatusCode, Err: cause}
	}
	return resp, nil
}

// readErrorMessage extracts {"error": "..."} or a short plain-text body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}

// exec sends a mutation and discards the response body.
func (b *Backend) exec(ctx context.Context, op, method, path string, body any) error {
	resp, err := b.do(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// FetchAll returns the full store
func (b *Backend) FetchAll(ctx context.Context) (*calendar.Store, error) {
	resp, err := b.do(ctx, "fetch tasks", http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	store := calendar.NewStore()
	if err := json.NewDecoder(resp.Body).Decode(store); err != nil {
		return nil, &backend.TransportError{Op: "fetch tasks", Status: resp.StatusCode, Err: err}
	}
	return store, nil
}

// Create appends a template to dateKey's list
func (b *Backend) Create(ctx context.Context, dateKey calendar.DateKey, t calendar.Template) error {
	return b.exec(ctx, "save task", http.MethodPost, "/tasks", createRequest{DateKey: dateKey, Task: t})
}

// Update replaces the template at index in dateKey's list
func (b *Backend) Update(ctx context.Context, dateKey calendar.DateKey, index int, t calendar.Template) error {
	return b.exec(ctx, "update task", http.MethodPut, "/tasks", updateRequest{DateKey: dateKey, TaskIndex: index, Task: t})
}

// Remove deletes the template at index in dateKey's list
func (b *Backend) Remove(ctx context.Context, dateKey calendar.DateKey, index int) error {
	return b.exec(ctx, "delete task", http.MethodDelete, "/tasks", deleteRequest{DateKey: dateKey, TaskIndex: index})
}

// SetCompletions replaces the completion overlay
func (b *Backend) SetCompletions(ctx context.Context, overlay calendar.Overlay) error {
	if overlay == nil {
		overlay = calendar.Overlay{}
	}
	return b.exec(ctx, "update completion", http.MethodPost, "/completions", completionsRequest{Completions: overlay})
}

// Ensure Backend satisfies the interface at compile time.
var _ backend.TaskStore = (*Backend)(nil)
