package cmd

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"todocal/backend/sqlite"
	"todocal/internal/server"
)

// --- Help and Version Tests ---

func TestHelpFlagCoreCLI(t *testing.T) {
	var stdout, stderr bytes.Buffer

	exitCode := Execute([]string{"--help"}, &stdout, &stderr, nil)
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d: %s", exitCode, stderr.String())
	}

	output := stdout.String()
	AssertContains(t, output, "todocal")
	AssertContains(t, output, "Usage:")
	for _, sub := range []string{"day", "month", "add", "toggle", "notify", "serve"} {
		AssertContains(t, output, sub)
	}
}

func TestVersionFlagCoreCLI(t *testing.T) {
	var stdout, stderr bytes.Buffer

	if exitCode := Execute([]string{"--version"}, &stdout, &stderr, nil); exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d: %s", exitCode, stderr.String())
	}
	AssertContains(t, stdout.String(), "todocal")
}

func TestUnknownCommandFails(t *testing.T) {
	c := NewCLITest(t)
	stdout, stderr := c.ExecuteAndFail("frobnicate")
	AssertContains(t, stderr, "unknown command")
	AssertResultCode(t, stdout, ResultError)
}

// --- Task commands ---

// seedWeek adds a weekday standup anchored on Monday 2024-03-04 and a
// dentist appointment on Tuesday.
func seedWeek(c *CLITest) {
	c.MustExecute("add", "Standup", "-d", "2024-03-04", "-t", "09:00", "-r", "weekdays")
	c.MustExecute("add", "Dentist", "-d", "2024-03-05", "-t", "14:00")
}

func TestAddAndDayCoreCLI(t *testing.T) {
	c := NewCLITest(t)

	out := c.MustExecute("add", "Standup", "-d", "2024-03-04", "-t", "09:00", "-r", "weekdays")
	AssertContains(t, out, "Created task: Standup on 2024-03-04 at 09:00 (repeats weekdays)")
	AssertResultCode(t, out, ResultActionCompleted)

	c.MustExecute("add", "Dentist", "-d", "2024-03-05", "-t", "14:00")
	c.MustExecute("add", "Buy", "milk", "-d", "2024-03-05")

	out = c.MustExecute("day")
	AssertContains(t, out, "Tuesday, March 5, 2024 (today)")
	AssertContains(t, out, "  1. [ ] --:-- Buy milk")
	AssertContains(t, out, "  2. [ ] 09:00 Standup (repeats weekdays)")
	AssertContains(t, out, "  3. [ ] 14:00 Dentist")
	AssertContains(t, out, "3 tasks, 0 completed")
	AssertResultCode(t, out, ResultInfoOnly)

	// Saturday has no weekday occurrence.
	out = c.MustExecute("day", "2024-03-09")
	AssertContains(t, out, "Saturday, March 9, 2024")
	AssertNotContains(t, out, "(today)")
	AssertContains(t, out, "No tasks")

	// Before the anchor nothing repeats.
	out = c.MustExecute("day", "2024-03-01")
	AssertContains(t, out, "No tasks")
}

func TestAddCustomDays(t *testing.T) {
	c := NewCLITest(t)

	out := c.MustExecute("add", "Gym", "-d", "2024-03-04", "-t", "18:00", "--days", "mon,wed,fri")
	AssertContains(t, out, "(repeats custom: Mon,Wed,Fri)")

	AssertContains(t, c.MustExecute("day", "2024-03-06"), "18:00 Gym")
	AssertContains(t, c.MustExecute("day", "2024-03-07"), "No tasks")
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad time", []string{"add", "X", "-t", "25:00"}, "HH:MM"},
		{"bad repeat", []string{"add", "X", "-r", "hourly"}, "Valid options: daily, weekly, weekdays, custom"},
		{"bad weekday", []string{"add", "X", "--days", "funday"}, "funday"},
		{"bad date", []string{"add", "X", "-d", "2024-13-45"}, "Use date format YYYY-MM-DD"},
		{"blank title", []string{"add", "   "}, "title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCLITest(t)
			_, stderr := c.ExecuteAndFail(tt.args...)
			AssertContains(t, stderr, tt.want)
		})
	}
}

func TestDayJSON(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	out := c.MustExecute("--json", "day", "2024-03-05")
	var resp dayResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Date != "2024-03-05" || resp.Count != 2 || resp.Completed != 0 || !resp.Online {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Result != ResultInfoOnly {
		t.Errorf("result = %q", resp.Result)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %+v", resp.Tasks)
	}

	standup := resp.Tasks[0]
	if standup.Title != "Standup" || !standup.Synthesized || standup.Anchor != "2024-03-04" || standup.Position != 1 {
		t.Errorf("unexpected standup: %+v", standup)
	}
	if want := standup.TemplateID + "-2024-03-05"; standup.InstanceKey != want {
		t.Errorf("instance key = %q, want %q", standup.InstanceKey, want)
	}
	if dentist := resp.Tasks[1]; dentist.Synthesized || dentist.Repeating || dentist.Time != "14:00" {
		t.Errorf("unexpected dentist: %+v", dentist)
	}
}

func TestMonthCoreCLI(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	out := c.MustExecute("month")
	AssertContains(t, out, "March 2024")
	AssertContains(t, out, "Sun    Mon")
	AssertContains(t, out, " 4(1)")
	AssertContains(t, out, "*5(2)")
	AssertContains(t, out, "29(1)")
	AssertResultCode(t, out, ResultInfoOnly)

	out = c.MustExecute("--json", "month", "2024-03")
	var resp monthResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Month != "2024-03" || len(resp.Days)%7 != 0 {
		t.Fatalf("unexpected month: %+v", resp)
	}
	counts := map[string]int{}
	for _, d := range resp.Days {
		if d.InMonth {
			counts[d.Date] = d.Count
		}
	}
	if counts["2024-03-01"] != 0 || counts["2024-03-05"] != 2 || counts["2024-03-09"] != 0 || counts["2024-03-11"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	_, stderr := c.ExecuteAndFail("month", "March")
	AssertContains(t, stderr, "Use month format YYYY-MM")
}

func TestToggleSynthesizedOccurrence(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	out := c.MustExecute("toggle", "1", "-d", "2024-03-05")
	AssertContains(t, out, "Completed task: Standup")

	out = c.MustExecute("day", "2024-03-05")
	AssertContains(t, out, "[✓] 09:00 Standup")
	AssertContains(t, out, "2 tasks, 1 completed")

	// Other days of the series are untouched.
	AssertContains(t, c.MustExecute("day", "2024-03-06"), "[ ] 09:00 Standup")
	AssertContains(t, c.MustExecute("day", "2024-03-04"), "[ ] 09:00 Standup")

	out = c.MustExecute("--json", "toggle", "1", "-d", "2024-03-05")
	var resp actionResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Action != "reopen" || resp.Task.Completed {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestToggleDirectTask(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	AssertContains(t, c.MustExecute("toggle", "2"), "Completed task: Dentist")
	AssertContains(t, c.MustExecute("day"), "[✓] 14:00 Dentist")
	AssertContains(t, c.MustExecute("toggle", "2"), "Reopened task: Dentist")
}

func TestToggleByID(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	var resp dayResponse
	if err := json.Unmarshal([]byte(c.MustExecute("--json", "day")), &resp); err != nil {
		t.Fatal(err)
	}
	AssertContains(t, c.MustExecute("toggle", resp.Tasks[1].ID), "Completed task: Dentist")

	_, stderr := c.ExecuteAndFail("toggle", "no-such-id")
	AssertContains(t, stderr, "todocal day 2024-03-05")
	_, stderr = c.ExecuteAndFail("toggle", "7")
	AssertContains(t, stderr, "not found")
}

func TestEditSynthesizedEditsSeries(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	out := c.MustExecute("edit", "1", "-d", "2024-03-06", "--title", "Daily sync", "-t", "09:30")
	AssertContains(t, out, "Updated task: Daily sync")
	AssertContains(t, out, "Edited the repeating task anchored on 2024-03-04")

	AssertContains(t, c.MustExecute("day", "2024-03-04"), "09:30 Daily sync")
	AssertContains(t, c.MustExecute("day", "2024-03-08"), "09:30 Daily sync")
}

func TestEditStopRepeating(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	c.MustExecute("edit", "1", "-d", "2024-03-04", "--no-repeat")

	AssertContains(t, c.MustExecute("day", "2024-03-04"), "09:00 Standup")
	out := c.MustExecute("day", "2024-03-05")
	AssertNotContains(t, out, "Standup")
	AssertContains(t, out, "1 tasks, 0 completed")
}

func TestDeleteDirectTask(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	out := c.MustExecute("delete", "2")
	AssertContains(t, out, "Deleted task: Dentist")
	AssertResultCode(t, out, ResultActionCompleted)
	AssertNotContains(t, c.MustExecute("day"), "Dentist")
}

func TestDeleteSynthesizedRefused(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	stdout, stderr := c.ExecuteAndFail("delete", "1", "-d", "2024-03-06")
	AssertContains(t, stderr, "Edit the original task on 2024-03-04")
	AssertResultCode(t, stdout, ResultError)

	AssertContains(t, c.MustExecute("day", "2024-03-06"), "Standup")
}

func TestDeleteSeriesRemovesItsCompletions(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)
	c.MustExecute("toggle", "1", "-d", "2024-03-05")

	AssertContains(t, c.MustExecute("delete", "1", "-d", "2024-03-04"), "Deleted task: Standup")

	out := c.MustExecute("day", "2024-03-05")
	AssertNotContains(t, out, "Standup")
	AssertContains(t, out, "1 tasks, 0 completed")
}

func TestDeletePromptsWithoutNoPrompt(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)
	c.Config().NoPrompt = false

	c.Config().Stdin = strings.NewReader("n\n")
	out := c.MustExecute("delete", "2")
	AssertContains(t, out, `Delete task "Dentist"?`)
	AssertContains(t, out, "Cancelled")
	AssertContains(t, c.MustExecute("day"), "Dentist")

	c.Config().Stdin = strings.NewReader("y\n")
	AssertContains(t, c.MustExecute("delete", "2"), "Deleted task: Dentist")
}

func TestToggleWithoutRefSelectsInteractively(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)
	c.Config().NoPrompt = false
	c.Config().Stdin = strings.NewReader("dent\n")

	out := c.MustExecute("toggle")
	AssertContains(t, out, "Select a task to toggle on 2024-03-05:")
	AssertContains(t, out, "Auto-selected: Dentist")
	AssertContains(t, out, "Completed task: Dentist")
}

func TestRefRequiredWithNoPrompt(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	_, stderr := c.ExecuteAndFail("toggle")
	AssertContains(t, stderr, "no task given")
	AssertContains(t, stderr, "todocal day 2024-03-05")
}

func TestDeleteSelectionOffersOnlyDirectTasks(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)
	c.Config().NoPrompt = false
	c.Config().Stdin = strings.NewReader("standup\n")

	_, stderr := c.ExecuteAndFail("delete", "-d", "2024-03-06")
	AssertContains(t, stderr, "no task to delete on 2024-03-06")
}

func TestAddInteractive(t *testing.T) {
	c := NewCLITest(t)
	c.Config().NoPrompt = false
	c.Config().Stdin = strings.NewReader("Gym\n2024-03-04\n18:00\ncustom\nmon,wed\n")

	out := c.MustExecute("add")
	AssertContains(t, out, "Title (required): ")
	AssertContains(t, out, "Created task: Gym on 2024-03-04 at 18:00 (repeats custom: Mon,Wed)")

	AssertContains(t, c.MustExecute("day", "2024-03-06"), "18:00 Gym")
}

func TestAddWithoutTitleInNoPromptMode(t *testing.T) {
	c := NewCLITest(t)
	_, stderr := c.ExecuteAndFail("add")
	AssertContains(t, stderr, "a title is required")
}

func TestJSONErrorOutput(t *testing.T) {
	c := NewCLITest(t)

	stdout, _ := c.ExecuteAndFail("--json", "day", "someday")
	var resp errorResponse
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if resp.Result != ResultError || resp.Code != 1 || !strings.Contains(resp.Error, "someday") {
		t.Errorf("unexpected error response: %+v", resp)
	}
}

func TestInvalidConfigFails(t *testing.T) {
	c := NewCLITest(t)
	c.SetFullConfig("backend: carrier-pigeon\n")

	_, stderr := c.ExecuteAndFail("day")
	AssertContains(t, stderr, "unknown backend")
	AssertContains(t, stderr, "Fix the config file")
}

// --- Notifications ---

func TestNotifyRunOnce(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)

	c.SetNow(time.Date(2024, 3, 5, 9, 0, 0, 0, time.Local))
	out := c.MustExecute("notify", "run", "--once")
	AssertContains(t, out, "Notified 1 task(s)")
	AssertResultCode(t, out, ResultActionCompleted)

	if executed := c.Executed(); len(executed) != 1 || !strings.Contains(executed[0], "Standup") {
		t.Errorf("expected one OS notification for Standup, got %v", executed)
	}

	out = c.MustExecute("notify", "log")
	AssertContains(t, out, `[TASK_DUE] "Standup" is scheduled for 09:00`)
	AssertContains(t, out, "-2024-03-05)")

	// Not due at this minute.
	c.SetNow(time.Date(2024, 3, 5, 13, 0, 0, 0, time.Local))
	AssertContains(t, c.MustExecute("notify", "run", "--once"), "Notified 0 task(s)")
}

func TestNotifyRunOnceSkipsCompleted(t *testing.T) {
	c := NewCLITest(t)
	seedWeek(c)
	c.MustExecute("toggle", "2")

	c.SetNow(time.Date(2024, 3, 5, 14, 0, 0, 0, time.Local))
	out := c.MustExecute("--json", "notify", "run", "--once")

	var resp struct {
		Notified []string `json:"notified"`
		Result   string   `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(resp.Notified) != 0 || resp.Result != ResultActionCompleted {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestNotifyDisabled(t *testing.T) {
	c := NewCLITest(t)
	c.SetFullConfig("backend: sqlite\nsqlite:\n  path: %DIR%/tasks.db\nnotification:\n  enabled: false\n")

	_, stderr := c.ExecuteAndFail("notify", "run", "--once")
	AssertContains(t, stderr, "notification")
	_, stderr = c.ExecuteAndFail("notify", "test")
	AssertContains(t, stderr, "notification")
}

func TestNotifyTestAndLog(t *testing.T) {
	c := NewCLITest(t)

	AssertContains(t, c.MustExecute("notify", "log"), "No notifications logged")

	out := c.MustExecute("notify", "test")
	AssertContains(t, out, "Test notification sent through 2 channel(s)")

	AssertContains(t, c.MustExecute("notify", "log"), "[TEST] Test notification from todocal")

	c.MustExecute("notify", "test")
	out = c.MustExecute("notify", "log", "-n", "1")
	if got := strings.Count(out, "[TEST]"); got != 1 {
		t.Errorf("expected one entry with -n 1, got %d:\n%s", got, out)
	}

	AssertContains(t, c.MustExecute("notify", "log", "--clear"), "Notification log cleared")
	AssertContains(t, c.MustExecute("notify", "log"), "No notifications logged")
}

// --- Accounts and the remote backend ---

const remoteTestConfig = `backend: remote
remote:
  url: %URL%/api
  account: tester
  rate_limit_rps: 0
  timeout: 5s
store:
  cache_path: %DIR%/cache/store.json
notification:
  enabled: true
  log_notification:
    enabled: true
    path: %DIR%/notifications.log
logging:
  background_enabled: false
`

var testSecret = []byte("a-test-secret-that-is-long-enough")

// startRemote serves a fresh sqlite database over HTTP and points c at it.
func startRemote(t *testing.T, c *CLITest) *httptest.Server {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	srv, err := server.NewServer(store, testSecret)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c.SetFullConfig(strings.ReplaceAll(remoteTestConfig, "%URL%", ts.URL))
	return ts
}

func issueToken(t *testing.T, secret []byte) string {
	t.Helper()
	token, err := server.IssueToken(secret, "tester", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func TestStatusSQLite(t *testing.T) {
	c := NewCLITest(t)

	out := c.MustExecute("status")
	AssertContains(t, out, "Backend: sqlite")
	AssertContains(t, out, filepath.Join(c.TmpDir(), "tasks.db"))
}

func TestRemoteRequiresLogin(t *testing.T) {
	c := NewCLITest(t)
	startRemote(t, c)

	_, stderr := c.ExecuteAndFail("day")
	AssertContains(t, stderr, "not logged in to remote")
	AssertContains(t, stderr, "todocal login")
}

func TestLoginStatusLogout(t *testing.T) {
	c := NewCLITest(t)
	ts := startRemote(t, c)

	out := c.MustExecute("login", "--token", issueToken(t, testSecret))
	AssertContains(t, out, "Token stored in system keyring")

	out = c.MustExecute("status")
	AssertContains(t, out, "Service: "+ts.URL+"/api")
	AssertContains(t, out, "Source: keyring")
	AssertContains(t, out, "Token: ******** (hidden)")

	AssertContains(t, c.MustExecute("logout"), "Logged out of remote")
	AssertContains(t, c.MustExecute("status"), "Not logged in to remote")
}

func TestLoginFromPrompt(t *testing.T) {
	c := NewCLITest(t)
	startRemote(t, c)
	c.Config().Stdin = strings.NewReader(issueToken(t, testSecret) + "\n")

	out := c.MustExecute("login")
	AssertContains(t, out, "Enter access token for remote")
	AssertContains(t, c.MustExecute("status"), "Source: keyring")
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	c := NewCLITest(t)
	startRemote(t, c)

	expired, err := server.IssueToken(testSecret, "tester", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	_, stderr := c.ExecuteAndFail("login", "--token", expired)
	AssertContains(t, stderr, "expired")
}

func TestRemoteRoundTripAndOfflineSnapshot(t *testing.T) {
	c := NewCLITest(t)
	ts := startRemote(t, c)
	c.MustExecute("login", "--token", issueToken(t, testSecret))

	seedWeek(c)
	c.MustExecute("toggle", "1", "-d", "2024-03-05")

	out := c.MustExecute("day", "2024-03-05")
	AssertNotContains(t, out, "[offline]")
	AssertContains(t, out, "[✓] 09:00 Standup")
	AssertContains(t, out, "[ ] 14:00 Dentist")

	if _, err := os.Stat(filepath.Join(c.TmpDir(), "cache", "store.json")); err != nil {
		t.Fatalf("expected a store snapshot: %v", err)
	}

	ts.Close()
	out = c.MustExecute("day", "2024-03-05")
	AssertContains(t, out, "[offline]")
	AssertContains(t, out, "[✓] 09:00 Standup")

	// Writes need the service.
	_, stderr := c.ExecuteAndFail("add", "Lunch", "-t", "12:00")
	AssertContains(t, stderr, "remote")
}

func TestRemoteRejectedTokenIsDiscarded(t *testing.T) {
	c := NewCLITest(t)
	startRemote(t, c)
	c.MustExecute("login", "--token", issueToken(t, []byte("some-other-secret-entirely")))

	_, stderr := c.ExecuteAndFail("day")
	AssertContains(t, stderr, "Your session has expired")

	AssertContains(t, c.MustExecute("status"), "Not logged in to remote")
}

// --- Server tokens ---

func TestServeTokenRequiresSecret(t *testing.T) {
	c := NewCLITest(t)
	t.Setenv("TODOCAL_JWT_SECRET", "")

	_, stderr := c.ExecuteAndFail("serve", "token")
	AssertContains(t, stderr, "Export TODOCAL_JWT_SECRET")
}

func TestServeTokenIsAccepted(t *testing.T) {
	c := NewCLITest(t)
	t.Setenv("TODOCAL_JWT_SECRET", string(testSecret))

	out := c.MustExecute("--json", "serve", "token", "--subject", "laptop", "--ttl", "1h")
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if resp.Token == "" || time.Until(resp.ExpiresAt) > time.Hour+time.Minute {
		t.Fatalf("unexpected token response: %+v", resp)
	}

	startRemote(t, c)
	c.MustExecute("login", "--token", resp.Token)
	AssertContains(t, c.MustExecute("day"), "No tasks")
}
