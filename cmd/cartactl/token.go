package main

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"carta/api/internal/auth"
	"carta/api/internal/config"
	"carta/api/internal/rbac"
)

func tokenCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "token",
		Short: "Manage API access tokens.",
	}
	cmd.AddCommand(tokenIssueCmd())
	return &cmd
}

type issueOptions struct {
	userID    string
	name      string
	role      string
	accountID string
	ttl       time.Duration
}

func issueToken(secret string, opts issueOptions) (string, error) {
	if opts.userID == "" || opts.accountID == "" {
		return "", fmt.Errorf("--user and --account are required")
	}
	if opts.name == "" {
		opts.name = opts.userID
	}
	role := rbac.Normalize(opts.role)
	if string(role) != opts.role {
		return "", fmt.Errorf("unknown role %q", opts.role)
	}
	claims := auth.NewClaims(opts.userID, opts.name, string(role), opts.accountID, ulid.Make().String(), opts.ttl)
	return auth.IssueToken([]byte(secret), claims)
}

func tokenIssueCmd() *cobra.Command {
	var opts issueOptions
	cmd := cobra.Command{
		Use:   "issue",
		Short: "Sign an access token for a user of an account.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if opts.ttl <= 0 {
				opts.ttl = cfg.AccessTTL
			}
			token, err := issueToken(cfg.JWTSecret, opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "", "User id (token subject).")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name recorded as the author of saves and publishes.")
	cmd.Flags().StringVar(&opts.role, "role", string(rbac.RoleEditor), "One of viewer, editor, owner.")
	cmd.Flags().StringVar(&opts.accountID, "account", "", "Account id the token is scoped to.")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 0, "Token lifetime, defaults to CARTA_ACCESS_TTL_SECONDS.")
	return &cmd
}
