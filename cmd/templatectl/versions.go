package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fundroom/api/internal/app"
	"fundroom/api/internal/store"
)

func versionsCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "versions TYPE",
		Short: "List the versions of a template type, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			db, err := store.Open(ctx, env.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			service := app.New(env.cfg, store.NewPostgresStore(db), app.Integrations{}, env.log)
			versions, err := service.ListVersions(ctx, args[0])
			if err != nil {
				return err
			}
			printVersions(cmd, versions)
			return nil
		},
	}
}

func printVersions(cmd *cobra.Command, versions []app.VersionView) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tACTIVE\tCREATED\tBY\tID\tDESCRIPTION")
	for _, v := range versions {
		active := ""
		if v.IsActive {
			active = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Version, active, v.CreatedAt.Format("2006-01-02 15:04"), v.CreatedBy, v.ID, v.Description)
	}
	_ = w.Flush()
}
