// Command templatectl is the operator CLI for template versions: schema
// migrations, seeding, listing and offline diffs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fundroom/api/internal/config"
	"fundroom/api/internal/logger"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliEnv struct {
	cfg config.Config
	log *zap.Logger
}

func rootCmd() *cobra.Command {
	env := &cliEnv{}
	var databaseURL string

	cmd := &cobra.Command{
		Use:           "templatectl",
		Short:         "Manage fund document template versions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			env.cfg = config.Load()
			if databaseURL != "" {
				env.cfg.DatabaseURL = databaseURL
			}
			env.log = logger.New(env.cfg.LogLevel, "console")
		},
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (defaults to DATABASE_URL)")

	cmd.AddCommand(
		migrateCmd(env),
		seedCmd(env),
		versionsCmd(env),
		diffCmd(),
		tokenCmd(env),
	)
	return cmd
}
