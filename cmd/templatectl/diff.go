package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"fundroom/api/internal/content"
	"fundroom/api/internal/diff"
)

func diffCmd() *cobra.Command {
	var templateType string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "diff FROM.json TO.json",
		Short: "Compare two template content files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := readContent(args[0])
			if err != nil {
				return err
			}
			to, err := readContent(args[1])
			if err != nil {
				return err
			}

			result := diff.Annotate(templateType, diff.Compute(from, to))
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(result)
			}
			printDiff(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&templateType, "type", "", "template type, for display labels")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw diff result as JSON")
	return cmd
}

func readContent(path string) (content.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return content.Value{}, fmt.Errorf("read %s: %w", path, err)
	}
	value, err := content.Parse(data)
	if err != nil {
		return content.Value{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return value, nil
}

func printDiff(w io.Writer, result diff.Result) {
	for _, change := range result.Changes {
		label := change.Path
		if change.DisplayPath != "" && change.DisplayPath != change.Path {
			label = fmt.Sprintf("%s (%s)", change.DisplayPath, change.Path)
		}
		switch change.Type {
		case diff.Added:
			fmt.Fprintf(w, "+ %s: %s\n", label, *change.NewValue)
		case diff.Removed:
			fmt.Fprintf(w, "- %s: %s\n", label, *change.OldValue)
		default:
			if change.TextDiff != "" {
				fmt.Fprintf(w, "~ %s:\n%s", label, change.TextDiff)
				continue
			}
			fmt.Fprintf(w, "~ %s: %s -> %s\n", label, *change.OldValue, *change.NewValue)
		}
	}
	fmt.Fprintf(w, "%d added, %d removed, %d modified\n", result.Summary.Added, result.Summary.Removed, result.Summary.Modified)
}
