package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// CLIHandler handles the login, logout and status commands
type CLIHandler struct {
	manager *Manager
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

// NewCLIHandler creates a new CLI handler for credential commands
func NewCLIHandler(manager *Manager, stdin io.Reader, stdout, stderr io.Writer) *CLIHandler {
	return &CLIHandler{
		manager: manager,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}
}

// Login stores token, prompting for it when empty.
func (h *CLIHandler) Login(backend, account, token string) error {
	if token == "" {
		var err error
		token, err = PromptToken(h.stdin, h.stdout, backend)
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}
	if IsExpired(token, time.Now()) {
		return errors.New("token is expired or malformed")
	}

	err := h.manager.Set(context.Background(), backend, account, token)
	if err != nil {
		// Check if keyring is not available and provide helpful guidance
		if errors.Is(err, ErrKeyringNotAvailable) {
			return h.keyringNotAvailableError(backend)
		}
		return fmt.Errorf("failed to store token: %w", err)
	}

	_, _ = fmt.Fprintf(h.stdout, "Token stored in system keyring\n")
	return nil
}

// keyringNotAvailableError returns a helpful error message when keyring is not available
func (h *CLIHandler) keyringNotAvailableError(backend string) error {
	msg := fmt.Sprintf(`System keyring not available.

Alternative: set the token in an environment variable instead:

  export %s="your-access-token"

Run 'todocal status' to verify the token is detected.
`, EnvVar(backend))

	return errors.New(msg)
}

// Logout removes the stored token.
func (h *CLIHandler) Logout(backend, account string) error {
	if err := h.manager.Delete(context.Background(), backend, account); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	_, _ = fmt.Fprintf(h.stdout, "Logged out of %s\n", backend)
	return nil
}

// Status displays where the token comes from and when it expires.
func (h *CLIHandler) Status(backend, account string, jsonOutput bool) error {
	info, err := h.manager.Get(context.Background(), backend, account)
	if err != nil {
		return fmt.Errorf("failed to get credentials: %w", err)
	}

	if jsonOutput {
		jsonBytes, err := info.JSON()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(h.stdout, string(jsonBytes))
		return nil
	}

	if !info.Found {
		_, _ = fmt.Fprintf(h.stdout, "Not logged in to %s\n", info.Backend)
		_, _ = fmt.Fprintf(h.stdout, "Searched:\n")
		_, _ = fmt.Fprintf(h.stdout, "  - System keyring: Not found\n")
		_, _ = fmt.Fprintf(h.stdout, "  - Environment variable %s: Not set\n", EnvVar(info.Backend))
		return nil
	}

	_, _ = fmt.Fprintf(h.stdout, "Backend: %s\n", info.Backend)
	_, _ = fmt.Fprintf(h.stdout, "Account: %s\n", info.Account)
	_, _ = fmt.Fprintf(h.stdout, "Source: %s\n", info.Source)
	_, _ = fmt.Fprintf(h.stdout, "Token: ******** (hidden)\n")
	switch {
	case info.ExpiresAt == nil:
		_, _ = fmt.Fprintf(h.stdout, "Expires: never\n")
	case !info.ExpiresAt.After(time.Now()):
		_, _ = fmt.Fprintf(h.stdout, "Expires: %s (expired)\n", info.ExpiresAt.Local().Format(time.RFC3339))
	default:
		_, _ = fmt.Fprintf(h.stdout, "Expires: %s\n", info.ExpiresAt.Local().Format(time.RFC3339))
	}
	return nil
}
