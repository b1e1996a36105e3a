// Package credentials stores the bearer token used by the remote task store
// in the OS keyring, with fallback to environment variables.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"todocal/internal/utils"
)

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// ErrNoToken is returned by a token source when no credential is stored.
var ErrNoToken = errors.New("no access token stored")

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source    Source     // Where credentials came from
	Backend   string     // Backend name (e.g., "remote")
	Account   string     // Account identifier
	Token     string     // Bearer token (never printed)
	Found     bool       // Whether credentials were found
	ExpiresAt *time.Time // Token expiry, when the token carries one
}

// JSON serializes the credential info to JSON (token excluded for security)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Backend   string     `json:"backend"`
		Account   string     `json:"account"`
		Source    string     `json:"source"`
		Found     bool       `json:"found"`
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}{
		Backend:   c.Backend,
		Account:   c.Account,
		Source:    string(c.Source),
		Found:     c.Found,
		ExpiresAt: c.ExpiresAt,
	}
	return json.Marshal(output)
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
	getenv  func(string) string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithGetenv replaces os.Getenv for environment lookups.
func WithGetenv(getenv func(string) string) ManagerOption {
	return func(m *Manager) {
		m.getenv = getenv
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &systemKeyring{},
		getenv:  os.Getenv,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// normalizeBackend normalizes backend names to lowercase
func normalizeBackend(backend string) string {
	return strings.ToLower(strings.TrimSpace(backend))
}

// serviceName returns the keyring service name for a backend
func serviceName(backend string) string {
	return fmt.Sprintf("todocal-%s", normalizeBackend(backend))
}

// EnvVar returns the environment variable consulted for a backend's token.
func EnvVar(backend string) string {
	return fmt.Sprintf("TODOCAL_%s_TOKEN", strings.ToUpper(normalizeBackend(backend)))
}

// Set stores a token in the keyring
func (m *Manager) Set(ctx context.Context, backend, account, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	return m.keyring.Set(serviceName(backend), account, token)
}

// Get retrieves credentials from available sources (keyring first, then env vars)
func (m *Manager) Get(ctx context.Context, backend, account string) (*CredentialInfo, error) {
	backend = normalizeBackend(backend)
	info := &CredentialInfo{Source: SourceNone, Backend: backend, Account: account}

	// Priority 1: Try keyring
	if token, err := m.keyring.Get(serviceName(backend), account); err == nil && token != "" {
		info.Source, info.Token, info.Found = SourceKeyring, token, true
	} else if token := m.getenv(EnvVar(backend)); token != "" {
		// Priority 2: Try environment variables
		info.Source, info.Token, info.Found = SourceEnvironment, token, true
	}

	if info.Found {
		if exp, ok := ExpiresAt(info.Token); ok {
			info.ExpiresAt = &exp
		}
	}
	return info, nil
}

// Delete removes credentials from the keyring
func (m *Manager) Delete(ctx context.Context, backend, account string) error {
	err := m.keyring.Delete(serviceName(backend), account)
	// Idempotent: return nil if not found
	if err != nil && (errors.Is(err, ErrNotFound) || strings.Contains(err.Error(), "not found")) {
		return nil
	}
	return err
}

// TokenSource returns a function yielding the current token for backend,
// failing with ErrNoToken when none is stored or the stored one has expired.
func (m *Manager) TokenSource(backend, account string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		info, err := m.Get(ctx, backend, account)
		if err != nil {
			return "", err
		}
		if !info.Found {
			return "", ErrNoToken
		}
		if IsExpired(info.Token, time.Now()) {
			return "", fmt.Errorf("stored token expired: %w", ErrNoToken)
		}
		return info.Token, nil
	}
}

// Discard returns a hook that drops the stored token, for use when the
// remote store rejects it. A token set in the environment cannot be dropped
// from here, so the user is told to unset it.
func (m *Manager) Discard(backend, account string) func(error) {
	return func(cause error) {
		utils.Debugf("discarding %s token: %v", backend, cause)
		if err := m.Delete(context.Background(), backend, account); err != nil {
			utils.Warnf("could not discard token: %v", err)
		}
		if env := EnvVar(backend); m.getenv(env) != "" {
			utils.Warnf("%s holds a rejected token and will be sent again; unset it or export a fresh one", env)
		}
	}
}

// ExpiresAt reads the exp claim of a JWT without verifying its signature.
func ExpiresAt(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// IsExpired reports whether token should no longer be sent. Malformed JWTs
// count as expired; opaque tokens and JWTs without exp never expire.
func IsExpired(token string, now time.Time) bool {
	if strings.Count(token, ".") != 2 {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(now)
}

// PromptToken prompts for a token. On a terminal the input is hidden with
// term.ReadPassword; otherwise a line is read from reader.
func PromptToken(reader io.Reader, writer io.Writer, backend string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter access token for %s: ", backend)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	// For non-TTY input (testing), just read a line
	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
