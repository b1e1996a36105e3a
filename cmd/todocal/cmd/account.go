package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"todocal/internal/config"
	"todocal/internal/credentials"
)

func credentialHandler(cfg *Config, stdout, stderr io.Writer) *credentials.CLIHandler {
	return credentials.NewCLIHandler(newCredentialManager(cfg), cfg.stdin(), stdout, stderr)
}

// newLoginCmd creates the 'login' command
func newLoginCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the access token of the remote task service",
		Long:  "Store the bearer token used by the remote backend in the system keyring. Without --token the token is read from a hidden prompt.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			token, _ := cmd.Flags().GetString("token")
			if err := credentialHandler(cfg, stdout, stderr).Login(config.BackendRemote, appCfg.Remote.Account, token); err != nil {
				return err
			}
			resultCode(cfg, stdout, ResultActionCompleted)
			return nil
		},
	}
	cmd.Flags().String("token", "", "Access token (prompted for when omitted)")
	return cmd
}

// newLogoutCmd creates the 'logout' command
func newLogoutCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			if err := credentialHandler(cfg, stdout, stderr).Logout(config.BackendRemote, appCfg.Remote.Account); err != nil {
				return err
			}
			resultCode(cfg, stdout, ResultActionCompleted)
			return nil
		},
	}
}

// newStatusCmd creates the 'status' command
func newStatusCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured backend and credential status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, err := loadConfig(cfg)
			if err != nil {
				return err
			}
			jsonOutput := cfg.OutputFormat == "json"

			if appCfg.Backend == config.BackendSQLite {
				if jsonOutput {
					return writeJSON(stdout, map[string]any{
						"backend":  appCfg.Backend,
						"database": appCfg.GetDatabasePath(),
						"result":   ResultInfoOnly,
					})
				}
				_, _ = fmt.Fprintf(stdout, "Backend: %s\n", appCfg.Backend)
				_, _ = fmt.Fprintf(stdout, "Database: %s\n", appCfg.GetDatabasePath())
				resultCode(cfg, stdout, ResultInfoOnly)
				return nil
			}

			if !jsonOutput {
				_, _ = fmt.Fprintf(stdout, "Service: %s\n", appCfg.Remote.URL)
			}
			if err := credentialHandler(cfg, stdout, stderr).Status(config.BackendRemote, appCfg.Remote.Account, jsonOutput); err != nil {
				return err
			}
			if !jsonOutput {
				resultCode(cfg, stdout, ResultInfoOnly)
			}
			return nil
		},
	}
}
