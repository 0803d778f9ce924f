package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
	"github.com/meridian-gis/geoquery/internal/discrepancy"
	"github.com/meridian-gis/geoquery/internal/source"
)

var (
	discrepancyWhere     string
	discrepancyDB        string
	discrepancyTable     string
	discrepancyTolerance float64
	discrepancySeedFile  string
	discrepancyJSON      bool
)

var discrepancyCmd = &cobra.Command{
	Use:   "discrepancy",
	Short: "Compare GIS areas against a reference database",
	Long: `Fetch features matching a filter and compare each SQMI value against a
SQLite reference table, flagging records whose percent difference exceeds
the tolerance.

Examples:
  geoquery discrepancy --db reference.db --where "STATE_NAME = 'Texas'" --tolerance 1.0
  geoquery discrepancy --db reference.db --seed reference.json --where "1=1"`,
	RunE: runDiscrepancy,
}

func init() {
	discrepancyCmd.Flags().StringVar(&discrepancyWhere, "where", "1=1", "filter expression selecting the features to compare")
	discrepancyCmd.Flags().StringVar(&discrepancyDB, "db", "", "path to the SQLite reference database (required)")
	discrepancyCmd.Flags().StringVar(&discrepancyTable, "table", "", "reference table name (default county_reference)")
	discrepancyCmd.Flags().Float64Var(&discrepancyTolerance, "tolerance", 1.0, "allowed percent difference before flagging")
	discrepancyCmd.Flags().StringVar(&discrepancySeedFile, "seed", "", "JSON file of reference rows to load before comparing")
	discrepancyCmd.Flags().BoolVar(&discrepancyJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(discrepancyCmd)
}

func runDiscrepancy(cmd *cobra.Command, args []string) error {
	if discrepancyDB == "" {
		return fmt.Errorf("--db is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, false, true)
	if err != nil {
		return err
	}
	defer a.Close()

	det, err := discrepancy.Open(discrepancyDB, discrepancyTable, logger.WithComponent("discrepancy"))
	if err != nil {
		return err
	}
	defer det.Close()

	if discrepancySeedFile != "" {
		rows, err := readReferenceRows(discrepancySeedFile)
		if err != nil {
			return err
		}
		if err := det.Seed(ctx, rows); err != nil {
			return err
		}
		ui.Success("Seeded %d reference rows", len(rows))
	}

	sp := ui.NewSpinner("Fetching features...")
	sp.Start()
	result, err := a.Source.Query(ctx, discrepancyWhere, source.QueryOptions{
		PageSize: cfg.Source.PageSize,
		MaxPages: cfg.Source.MaxPages,
	})
	sp.Stop()
	if err != nil {
		return err
	}

	report, err := det.Detect(ctx, result.Features, discrepancyTolerance)
	if err != nil {
		return err
	}

	if discrepancyJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	ui.Section("Discrepancy summary")
	ui.Info("  Tolerance: +/-%.2f%%", report.TolerancePercent)
	ui.Info("  Compared:  %d", report.Compared)
	ui.Info("  Matching:  %d", report.MatchingCount)
	ui.Info("  Flagged:   %d", report.FlaggedCount)
	if report.InvalidCount > 0 {
		ui.Warn("  Invalid:   %d", report.InvalidCount)
	}

	if len(report.Discrepancies) > 0 {
		ui.Section("Flagged discrepancies")
		rows := make([][]string, 0, len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			rows = append(rows, []string{
				d.Name,
				d.State,
				fmt.Sprintf("%.2f", d.GISSqMiles),
				fmt.Sprintf("%.2f", d.DBSqMiles),
				fmt.Sprintf("%.2f%%", d.PercentDifference),
				d.Status,
			})
		}
		ui.Table([]string{"NAME", "STATE", "GIS SQMI", "DB SQMI", "DIFF", "STATUS"}, rows)
	}

	if len(report.MissingInDB) > 0 {
		ui.Section("Missing from reference database")
		for _, name := range report.MissingInDB {
			ui.Info("  %s", name)
		}
	}

	return nil
}

func readReferenceRows(path string) ([]discrepancy.ReferenceRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reference rows: %w", err)
	}
	var rows []discrepancy.ReferenceRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parsing reference rows: %w", err)
	}
	return rows, nil
}
