package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent compile audit entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		a, err := newApp(ctx, cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.Audit == nil {
			ui.Warn("Audit log is disabled (set audit.enabled: true)")
			return nil
		}

		entries, err := a.Audit.Recent(ctx, auditLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			ui.Info("No audit entries")
			return nil
		}

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			status := "ok"
			if e.Error != "" {
				status = "error"
			}
			rows = append(rows, []string{
				e.CreatedAt.Format(time.RFC3339),
				e.QueryText,
				e.FilterExpression,
				fmt.Sprintf("%.2f", e.Confidence),
				fmt.Sprintf("%dms", e.DurationMS),
				status,
			})
		}
		ui.Table([]string{"TIME", "QUERY", "FILTER", "CONFIDENCE", "DURATION", "STATUS"}, rows)
		return nil
	},
}

func init() {
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of entries to show")
	rootCmd.AddCommand(auditCmd)
}
