package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/apid/internal/config"
	"github.com/vango-dev/apid/pkg/server"
)

func tokenCmd(configPath *string) *cobra.Command {
	var (
		perms []string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a client token",
		Long: `Mint a bearer token signed with the configured jwt_secret.

Examples:
  apid token kiosk --perm settings:read
  apid token admin --perm settings:read,settings:write --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath, slog.Default())
			if err != nil {
				return err
			}
			if cfg.Permissions.JWTSecret == "" {
				return errors.New("permissions.jwt_secret is not set")
			}
			token, err := server.NewJWTResolver([]byte(cfg.Permissions.JWTSecret)).Issue(args[0], perms, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&perms, "perm", nil, "Permissions to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 never expires")

	return cmd
}
