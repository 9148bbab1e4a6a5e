package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"fundroom/api/internal/app"
	"fundroom/api/internal/content"
	"fundroom/api/internal/store"
)

type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Content     any    `yaml:"content"`
}

type seedEntry struct {
	Type        string
	Description string
	Content     content.Value
}

func parseSeedFile(data []byte) ([]seedEntry, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	entries := make([]seedEntry, 0, len(file.Templates))
	for i, tpl := range file.Templates {
		if tpl.Type == "" {
			return nil, fmt.Errorf("template %d: type is required", i)
		}
		value, err := content.FromAny(tpl.Content)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.Type, err)
		}
		description := tpl.Description
		if description == "" {
			description = "Initial version"
		}
		entries = append(entries, seedEntry{Type: tpl.Type, Description: description, Content: value})
	}
	return entries, nil
}

func seedCmd(env *cliEnv) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial 1.0.0 version of every template type in a seed file",
		Long: `Reads a YAML seed file and saves each template as its first version.
Types that already have versions are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			entries, err := parseSeedFile(data)
			if err != nil {
				return err
			}

			ctx := context.Background()
			db, err := store.Open(ctx, env.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			service := app.New(env.cfg, store.NewPostgresStore(db), app.Integrations{}, env.log)
			actor := app.Session{UserID: "templatectl", UserName: "templatectl", Role: "admin"}
			for _, entry := range entries {
				existing, err := service.ListVersions(ctx, entry.Type)
				if err != nil {
					return err
				}
				if len(existing) > 0 {
					env.log.Info("seed skipped", zap.String("type", entry.Type), zap.Int("versions", len(existing)))
					continue
				}
				saved, err := service.Save(ctx, entry.Type, app.SaveInput{Content: &entry.Content, Description: entry.Description}, actor)
				if err != nil {
					return fmt.Errorf("seed %s: %w", entry.Type, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", saved.Type, saved.Version, saved.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "seeds/templates.yaml", "seed file")
	return cmd
}
