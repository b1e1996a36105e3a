package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"todocal/internal/credentials"
	"todocal/internal/notification"
)

// defaultTestConfig keeps every path inside the test's temp dir.
const defaultTestConfig = `backend: sqlite
sqlite:
  path: %DIR%/tasks.db
store:
  cache_path: %DIR%/cache/store.json
remote:
  rate_limit_rps: 0
notification:
  enabled: true
  log_notification:
    enabled: true
    path: %DIR%/notifications.log
logging:
  background_enabled: false
`

// CLITest runs CLI commands in isolation: a temp config and database, a
// fixed clock, an in-memory keyring and a recording notify-send.
type CLITest struct {
	t          *testing.T
	cfg        *Config
	tmpDir     string
	configPath string
	keyring    *credentials.MockKeyring

	mu       sync.Mutex
	now      time.Time
	executed []string
}

// NewCLITest creates a CLI test helper whose clock reads 2024-03-05 08:00 local time.
func NewCLITest(t *testing.T) *CLITest {
	t.Helper()

	tmpDir := t.TempDir()
	c := &CLITest{
		t:          t,
		tmpDir:     tmpDir,
		configPath: filepath.Join(tmpDir, "config.yaml"),
		keyring:    credentials.NewMockKeyring(),
		now:        time.Date(2024, 3, 5, 8, 0, 0, 0, time.Local),
	}
	c.SetFullConfig(defaultTestConfig)

	c.cfg = &Config{
		NoPrompt:   true,
		ConfigPath: c.configPath,
		Now:        c.Now,
		Keyring:    c.keyring,
		Getenv:     func(string) string { return "" },
		NotifyExecutor: &notification.MockCommandExecutor{
			ExecuteFunc: func(cmd string, args ...string) error {
				c.mu.Lock()
				defer c.mu.Unlock()
				c.executed = append(c.executed, cmd+" "+strings.Join(args, " "))
				return nil
			},
		},
	}
	return c
}

// Now returns the fake clock.
func (c *CLITest) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetNow moves the fake clock.
func (c *CLITest) SetNow(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Executed returns the OS notification commands run so far.
func (c *CLITest) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// Config returns the test configuration.
func (c *CLITest) Config() *Config {
	return c.cfg
}

// TmpDir returns the temporary directory for the test.
func (c *CLITest) TmpDir() string {
	return c.tmpDir
}

// SetFullConfig replaces the config file. %DIR% expands to the temp dir.
func (c *CLITest) SetFullConfig(yamlContent string) {
	c.t.Helper()

	yamlContent = strings.ReplaceAll(yamlContent, "%DIR%", c.tmpDir)
	if err := os.WriteFile(c.configPath, []byte(yamlContent), 0644); err != nil {
		c.t.Fatalf("failed to write config file: %v", err)
	}
}

// Execute runs a CLI command with the given arguments and returns stdout, stderr, and exit code.
func (c *CLITest) Execute(args ...string) (stdout, stderr string, exitCode int) {
	c.t.Helper()

	// Flags such as --json write into the config; each run starts fresh.
	cfg := *c.cfg
	var stdoutBuf, stderrBuf bytes.Buffer
	exitCode = Execute(args, &stdoutBuf, &stderrBuf, &cfg)
	return stdoutBuf.String(), stderrBuf.String(), exitCode
}

// MustExecute runs a CLI command and fails the test if exit code is non-zero.
func (c *CLITest) MustExecute(args ...string) string {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode != 0 {
		c.t.Fatalf("expected exit code 0, got %d: stdout=%s stderr=%s", exitCode, stdout, stderr)
	}
	return stdout
}

// ExecuteAndFail runs a CLI command and fails the test if exit code is zero.
func (c *CLITest) ExecuteAndFail(args ...string) (stdout, stderr string) {
	c.t.Helper()

	stdout, stderr, exitCode := c.Execute(args...)
	if exitCode == 0 {
		c.t.Fatalf("expected non-zero exit code, got 0: stdout=%s", stdout)
	}
	return stdout, stderr
}

// AssertContains fails the test if output doesn't contain expected string.
func AssertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// AssertNotContains fails the test if output contains unexpected string.
func AssertNotContains(t *testing.T, output, unexpected string) {
	t.Helper()
	if strings.Contains(output, unexpected) {
		t.Errorf("expected output NOT to contain %q, got:\n%s", unexpected, output)
	}
}

// AssertResultCode verifies that the output ends with the expected result code.
func AssertResultCode(t *testing.T, output, expectedCode string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	lastLine := strings.TrimSpace(lines[len(lines)-1])
	if lastLine != expectedCode {
		t.Errorf("expected result code %q, got %q\nFull output:\n%s", expectedCode, lastLine, output)
	}
}
