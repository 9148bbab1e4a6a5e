package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fundroom/api/internal/auth"
	"fundroom/api/internal/rbac"
)

func tokenCmd(env *cliEnv) *cobra.Command {
	var subject, name, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with FUNDROOM_JWT_SECRET, for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rbac.Normalize(role) != rbac.Role(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.IssueToken([]byte(env.cfg.JWTSecret), auth.NewClaims(subject, name, role, ttl))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-operator", "user id")
	cmd.Flags().StringVar(&name, "name", "Local Operator", "display name")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleEditor), "viewer, editor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}
