package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsherman999/openclaw_logfeed/internal/accounts"
	"github.com/jsherman999/openclaw_logfeed/internal/config"
)

func Main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "logfeed",
		Short: "Logfeed CLI",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(tailCmd())
	root.AddCommand(tokenCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var user, role string
	var admin bool
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			tok, err := accounts.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(user, role, admin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "subject of the token")
	cmd.Flags().StringVar(&role, "role", "", "role claim")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator access")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
