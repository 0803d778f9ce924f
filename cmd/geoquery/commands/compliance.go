package commands

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
	"github.com/meridian-gis/geoquery/internal/compliance"
	"github.com/meridian-gis/geoquery/internal/source"
)

var (
	complianceWhere   string
	complianceMinArea float64
	complianceJSON    bool
	complianceCSV     bool
	complianceSaveAs  string
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Check features against the minimum-area policy",
	Long: `Fetch features matching a filter and check each against the configured
minimum-area requirement, reporting shortfalls ranked largest first.

Examples:
  geoquery compliance --where "STATE_NAME = 'Texas'" --min-area 2500`,
	RunE: runCompliance,
}

func init() {
	complianceCmd.Flags().StringVar(&complianceWhere, "where", "1=1", "filter expression selecting the features to check")
	complianceCmd.Flags().Float64Var(&complianceMinArea, "min-area", 0, "minimum area in square miles (defaults to the configured policy)")
	complianceCmd.Flags().BoolVar(&complianceJSON, "json", false, "print the report as JSON")
	complianceCmd.Flags().BoolVar(&complianceCSV, "csv", false, "print non-compliant features as CSV")
	complianceCmd.Flags().StringVar(&complianceSaveAs, "save", "", "save the report as a named session")
	rootCmd.AddCommand(complianceCmd)
}

func runCompliance(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	if complianceMinArea > 0 {
		cfg.Compliance.MinAreaSqMiles = complianceMinArea
	}

	a, err := newApp(ctx, cfg, logger, false, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sp := ui.NewSpinner("Fetching features...")
	sp.Start()
	result, err := a.Source.Query(ctx, complianceWhere, source.QueryOptions{
		PageSize: cfg.Source.PageSize,
		MaxPages: cfg.Source.MaxPages,
	})
	sp.Stop()
	if err != nil {
		return err
	}

	report := a.Checker.Check(result.Features)

	if complianceJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	if complianceCSV {
		return writeComplianceCSV(os.Stdout, report)
	}

	s := report.Summary
	ui.Section("Compliance summary")
	ui.Info("  Analyzed:        %d", s.TotalAnalyzed)
	ui.Info("  Compliant:       %d", s.CompliantCount)
	ui.Info("  Non-compliant:   %d", s.NonCompliantCount)
	if s.InvalidCount > 0 {
		ui.Warn("  Invalid areas:   %d", s.InvalidCount)
	}
	ui.Info("  Compliance rate: %.2f%%", s.ComplianceRatePercentage)
	ui.Info("  Total shortfall: %.2f sq mi", s.TotalShortfallSqMiles)

	if len(report.NonCompliant) > 0 {
		ui.Section("Largest shortfalls")
		rows := make([][]string, 0, len(report.NonCompliant))
		for i, d := range report.NonCompliant {
			if i >= 15 {
				break
			}
			rows = append(rows, []string{
				d.Name,
				d.State,
				fmt.Sprintf("%.2f", d.AreaSqMiles),
				fmt.Sprintf("%.2f", d.ShortfallSqMiles),
				d.Recommendation,
			})
		}
		ui.Table([]string{"NAME", "STATE", "AREA", "SHORTFALL", "RECOMMENDATION"}, rows)
	}

	if complianceSaveAs != "" {
		path, err := a.Sessions.Save(complianceSaveAs, currentUser(), nil, nil, report)
		if err != nil {
			return err
		}
		ui.Success("Session saved to %s", path)
	}

	return nil
}

// writeComplianceCSV emits every assessed feature as one row, non-compliant
// rows first in shortfall order.
func writeComplianceCSV(out io.Writer, report *compliance.Report) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"name", "state", "area_sq_miles", "required_sq_miles", "compliant", "shortfall_sq_miles", "recommendation"}); err != nil {
		return err
	}
	write := func(details []compliance.Detail) error {
		for _, d := range details {
			row := []string{
				d.Name,
				d.State,
				strconv.FormatFloat(d.AreaSqMiles, 'f', 2, 64),
				strconv.FormatFloat(d.RequiredSqMiles, 'f', 2, 64),
				strconv.FormatBool(d.Compliant),
				strconv.FormatFloat(d.ShortfallSqMiles, 'f', 2, 64),
				d.Recommendation,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	if err := write(report.NonCompliant); err != nil {
		return err
	}
	if err := write(report.Compliant); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
