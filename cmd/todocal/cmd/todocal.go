package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"todocal/backend"
	"todocal/backend/remote"
	"todocal/backend/sqlite"
	"todocal/internal/cache"
	"todocal/internal/config"
	"todocal/internal/credentials"
	"todocal/internal/lifecycle"
	"todocal/internal/notification"
	"todocal/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds application configuration
type Config struct {
	NoPrompt     bool
	Verbose      bool
	OutputFormat string
	ConfigPath   string // Path to config file (empty means the XDG default)
	DBPath       string // Overrides sqlite.path (for testing)
	CachePath    string // Overrides store.cache_path (for testing)

	// Test hooks
	Now            func() time.Time
	Stdin          io.Reader
	Keyring        credentials.Keyring
	NotifyExecutor notification.CommandExecutor
	Getenv         func(string) string
}

func (c *Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Config) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewTodoCal(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		// Check if --json flag was passed to output error as JSON
		if containsJSONFlag(args) || (cfg != nil && cfg.OutputFormat == "json") {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			// Emit ERROR result code in no-prompt mode
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// NewTodoCal creates the root command with injectable IO
func NewTodoCal(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:     "todocal",
		Short:   "A calendar of tasks with repeating schedules",
		Long:    "todocal keeps dated tasks, expands repeating ones onto the calendar and notifies when they come due.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				cfg.Verbose = true
			}
			if v, _ := cmd.Flags().GetBool("no-prompt"); v {
				cfg.NoPrompt = true
			}
			if v, _ := cmd.Flags().GetBool("json"); v {
				cfg.OutputFormat = "json"
			}
			if p, _ := cmd.Flags().GetString("config"); p != "" {
				cfg.ConfigPath = p
			}
			utils.SetVerboseMode(cfg.Verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().String("config", "", "Path to config file")

	cmd.AddCommand(newDayCmd(stdout, cfg))
	cmd.AddCommand(newMonthCmd(stdout, cfg))
	cmd.AddCommand(newAddCmd(stdout, cfg))
	cmd.AddCommand(newEditCmd(stdout, cfg))
	cmd.AddCommand(newToggleCmd(stdout, cfg))
	cmd.AddCommand(newDeleteCmd(stdout, cfg))
	cmd.AddCommand(newNotifyCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLoginCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, stderr, cfg))
	cmd.AddCommand(newStatusCmd(stdout, stderr, cfg))
	cmd.AddCommand(newServeCmd(stdout, cfg))
	cmd.AddCommand(newTUICmd(cfg))

	return cmd
}

// loadConfig reads the config file and applies test and flag overrides.
func loadConfig(cfg *Config) (*config.Config, error) {
	appCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.DBPath != "" {
		appCfg.SQLite.Path = cfg.DBPath
	}
	if cfg.CachePath != "" {
		appCfg.Store.CachePath = cfg.CachePath
	}
	appCfg.ApplyFlags(cfg.NoPrompt, cfg.OutputFormat)
	if err := appCfg.Validate(); err != nil {
		return nil, utils.WrapWithSuggestion(err, "Fix the config file at "+configPathOf(cfg))
	}
	cfg.NoPrompt = appCfg.NoPrompt
	cfg.OutputFormat = appCfg.OutputFormat
	return appCfg, nil
}

func configPathOf(cfg *Config) string {
	if cfg.ConfigPath != "" {
		return cfg.ConfigPath
	}
	return config.GetConfigDir() + "/config.yaml"
}

func newCredentialManager(cfg *Config) *credentials.Manager {
	var opts []credentials.ManagerOption
	if cfg.Keyring != nil {
		opts = append(opts, credentials.WithKeyring(cfg.Keyring))
	}
	if cfg.Getenv != nil {
		opts = append(opts, credentials.WithGetenv(cfg.Getenv))
	}
	return credentials.NewManager(opts...)
}

// app is the wired task store for one command.
type app struct {
	cfg     *Config
	config  *config.Config
	store   backend.TaskStore
	manager *lifecycle.Manager
}

// openApp builds the configured store and a refreshed lifecycle manager.
// A remote store that cannot be reached falls back to the last snapshot.
func openApp(ctx context.Context, cfg *Config) (*app, error) {
	appCfg, err := loadConfig(cfg)
	if err != nil {
		return nil, err
	}

	opts := []lifecycle.Option{
		lifecycle.WithOverlayEviction(appCfg.IsOverlayEvictionEnabled()),
	}

	var store backend.TaskStore
	switch appCfg.Backend {
	case config.BackendRemote:
		creds := newCredentialManager(cfg)
		info, err := creds.Get(ctx, config.BackendRemote, appCfg.Remote.Account)
		if err != nil {
			return nil, err
		}
		if !info.Found {
			return nil, utils.ErrNotLoggedIn(config.BackendRemote)
		}
		store, err = remote.New(remote.Config{
			BaseURL:           appCfg.Remote.URL,
			Token:             creds.TokenSource(config.BackendRemote, appCfg.Remote.Account),
			RequestsPerSecond: appCfg.Remote.RateLimitRPS,
			MaxRetries:        appCfg.Remote.MaxRetries,
			Timeout:           appCfg.GetRemoteTimeout(),
			BreakerThreshold:  appCfg.Remote.BreakerThreshold,
			BreakerCooldown:   appCfg.GetBreakerCooldown(),
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, lifecycle.WithOnAuthExpired(creds.Discard(config.BackendRemote, appCfg.Remote.Account)))
		if snap, err := cache.Load(appCfg.GetCachePath()); err == nil && snap.Backend == config.BackendRemote {
			utils.Debugf("seeded from snapshot of %s", snap.CreatedAt.Format(time.RFC3339))
			opts = append(opts, lifecycle.WithSeed(snap.Store))
		}
	default:
		store, err = sqlite.New(appCfg.GetDatabasePath())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	a := &app{
		cfg:     cfg,
		config:  appCfg,
		store:   store,
		manager: lifecycle.New(store, opts...),
	}

	if err := a.manager.Refresh(ctx); err != nil {
		if appCfg.Backend == config.BackendRemote && backend.IsTransport(err) && a.manager.Snapshot().Count() > 0 {
			utils.Warnf("remote store unreachable, showing last snapshot: %v", err)
			return a, nil
		}
		a.close()
		return nil, cliError(err)
	}
	return a, nil
}

// close saves the snapshot of a remote store and releases everything.
func (a *app) close() {
	if a.config.Backend == config.BackendRemote && a.manager.Online() {
		if err := cache.Save(a.config.GetCachePath(), a.config.Backend, a.manager.Snapshot()); err != nil {
			utils.Warnf("could not save store snapshot: %v", err)
		}
	}
	a.manager.Close()
	if err := a.store.Close(); err != nil {
		utils.Warnf("close store: %v", err)
	}
}

// cliError attaches suggestions to errors coming out of the core.
func cliError(err error) error {
	var suggestion *utils.ErrorWithSuggestion
	switch {
	case err == nil:
		return nil
	case errors.As(err, &suggestion):
		return err
	case backend.IsAuthExpired(err):
		return utils.ErrSessionExpired(err)
	case backend.IsTransport(err):
		return utils.ErrBackendOffline(config.BackendRemote, err.Error())
	}
	var invalid *lifecycle.InvalidOperationError
	if errors.As(err, &invalid) {
		return utils.WrapWithSuggestion(err, "Delete the original task or edit it to stop repeating")
	}
	return err
}

type errorResponse struct {
	Error  string `json:"error"`
	Code   int    `json:"code"`
	Result string `json:"result"`
}

// outputErrorJSON outputs error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  err.Error(),
		Code:   1,
		Result: ResultError,
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

func writeJSON(stdout io.Writer, v any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
	return nil
}

func resultCode(cfg *Config, stdout io.Writer, code string) {
	if cfg.NoPrompt {
		_, _ = fmt.Fprintln(stdout, code)
	}
}
