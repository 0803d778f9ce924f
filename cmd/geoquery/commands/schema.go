package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the loaded dataset schema and field mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ui.Section("Fields")
		if a.Registry.Empty() {
			ui.Warn("No schema loaded - using default field mappings")
		} else {
			rows := [][]string{}
			for _, f := range a.Registry.Fields() {
				rows = append(rows, []string{f.Name, string(f.Kind), f.Alias})
			}
			ui.Table([]string{"NAME", "KIND", "ALIAS"}, rows)
			ui.Info("Fingerprint: %s", a.Registry.Fingerprint())
		}

		ui.Section("Natural language mappings")
		rows := [][]string{}
		for _, m := range a.Registry.Mappings() {
			rows = append(rows, []string{m[0], m[1]})
		}
		ui.Table([]string{"TERM", "FIELD"}, rows)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
