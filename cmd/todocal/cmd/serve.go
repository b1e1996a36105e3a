package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"todocal/backend/sqlite"
	"todocal/internal/cache"
	"todocal/internal/config"
	"todocal/internal/server"
	"todocal/internal/shutdown"
	"todocal/internal/tui"
	"todocal/internal/utils"
)

func jwtSecret(appCfg *config.Config) ([]byte, error) {
	secret := appCfg.GetJWTSecret()
	if secret == "" {
		env := appCfg.Server.JWTSecretEnv
		if env == "" {
			env = "TODOCAL_JWT_SECRET"
		}
		return nil, utils.WrapWithSuggestion(errors.New("no JWT secret configured"),
			fmt.Sprintf("Export %s with a long random value", env))
	}
	return []byte(secret), nil
}

// newServeCmd creates the 'serve' command
func newServeCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local database over the todocal REST protocol",
		Long:  "Run the task service on the sqlite database, so other machines can use it with backend: remote. Requests need a bearer token signed with the configured JWT secret.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			secret, err := jwtSecret(appCfg)
			if err != nil {
				return err
			}
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = appCfg.Server.Addr
			}

			store, err := sqlite.New(appCfg.GetDatabasePath())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			srv, err := server.NewServer(store, secret)
			if err != nil {
				_ = store.Close()
				return err
			}

			sm := shutdown.NewManager()
			sm.HandleSignals()
			sm.RegisterCleanup("store", func(context.Context) error {
				return store.Close()
			})

			_, _ = fmt.Fprintf(stdout, "Serving %s on http://%s/api\n", appCfg.GetDatabasePath(), addr)
			runErr := srv.Run(sm.Context(), addr)
			if err := sm.Finish(); err != nil {
				utils.Warnf("shutdown: %v", err)
			}
			return runErr
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default server.addr)")
	cmd.AddCommand(newServeTokenCmd(stdout, cfg))
	return cmd
}

// newServeTokenCmd creates the 'serve token' command
func newServeTokenCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for this server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			secret, err := jwtSecret(appCfg)
			if err != nil {
				return err
			}
			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			token, err := server.IssueToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			if cfg.OutputFormat == "json" {
				return writeJSON(stdout, map[string]any{
					"token":      token,
					"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
					"result":     ResultActionCompleted,
				})
			}
			_, _ = fmt.Fprintln(stdout, token)
			return nil
		},
	}
	cmd.Flags().String("subject", "todocal", "Token subject")
	cmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")
	return cmd
}

// newTUICmd creates the 'tui' command
func newTUICmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			sm := shutdown.NewManager()
			sm.HandleSignals()
			sm.RegisterCleanup("store", func(context.Context) error {
				a.close()
				return nil
			})

			if a.config.Backend == config.BackendRemote {
				go cache.Follow(sm.Context(), a.manager, a.config.GetCachePath(), a.config.Backend)
			}

			model := tui.New(a.manager, tui.WithClock(cfg.now))
			defer model.Close()
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(sm.Context()))
			_, runErr := p.Run()
			if errors.Is(runErr, tea.ErrProgramKilled) {
				runErr = nil
			}
			if err := sm.Finish(); err != nil {
				utils.Warnf("shutdown: %v", err)
			}
			return runErr
		},
	}
}
