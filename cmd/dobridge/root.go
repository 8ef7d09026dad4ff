package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/directout-bridge/internal/auth"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/config"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "dobridge",
		Short:         "DirectOut router bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", getConfigPath(), "Configuration file path")

	rootCmd.AddCommand(newTokenCommand(&configFlag))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// newTokenCommand mints an API access token signed with the configured
// secret. There is no user store; operators hand tokens to API clients.
func newTokenCommand(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl == 0 {
				ttl = cfg.GetAccessTokenTTL()
			}
			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "Client name carried in the token")
	cmd.Flags().StringVarP(&role, "role", "r", string(auth.RoleViewer), "Role: viewer, operator or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default security.jwt.access_token_ttl)")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dobridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
