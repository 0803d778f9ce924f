package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-gis/geoquery/cmd/geoquery/ui"
	"github.com/meridian-gis/geoquery/internal/executor"
	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/source"
)

var (
	queryCompileOnly bool
	queryJSON        bool
	querySaveAs      string
	queryNoCache     bool
)

var queryCmd = &cobra.Command{
	Use:   "query <natural language question>",
	Short: "Compile and run a natural language query",
	Long: `Compile a natural language question into a structured query and run it
against the configured feature source.

Examples:
  geoquery query "find counties in Texas under 2500 square miles"
  geoquery query "top 5 largest counties in Texas"
  geoquery query --compile-only "how many counties are in Oklahoma"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().BoolVar(&queryCompileOnly, "compile-only", false, "compile the query without executing it")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print results as JSON")
	queryCmd.Flags().StringVar(&querySaveAs, "save", "", "save the results as a named session")
	queryCmd.Flags().BoolVar(&queryNoCache, "no-cache", false, "bypass the compile cache")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, true, !queryCompileOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	if queryNoCache {
		if err := a.Compiler.ClearCache(ctx); err != nil {
			ui.Warn("Could not clear compile cache: %v", err)
		}
	}

	sp := ui.NewSpinner("Compiling query...")
	sp.Start()
	start := time.Now()
	compiled, err := a.Compiler.Compile(ctx, question)
	sp.Stop()

	if a.Audit != nil {
		if auditErr := a.Audit.RecordCompile(ctx, question, compiled, time.Since(start), err); auditErr != nil {
			ui.Warn("Could not record audit entry: %v", auditErr)
		}
	}
	if err != nil {
		return err
	}

	printCompiled(compiled)

	if queryCompileOnly {
		return nil
	}

	results, err := a.Executor.Execute(ctx, compiled)
	if err != nil {
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	printResults(results)

	if querySaveAs != "" {
		path, err := a.Sessions.Save(querySaveAs, currentUser(), compiled, results, nil)
		if err != nil {
			return err
		}
		ui.Success("Session saved to %s", path)
	}

	return nil
}

func printCompiled(q *nlq.CompiledQuery) {
	ui.Section("Compiled query")
	ui.Info("  WHERE:      %s", q.FilterExpression)
	if q.OrderBy != nil {
		ui.Info("  ORDER BY:   %s", q.OrderBy.String())
	}
	if q.Limit != nil {
		ui.Info("  LIMIT:      %d", *q.Limit)
	}
	if q.Aggregation != nil {
		if q.Aggregation.Field != "" {
			ui.Info("  AGGREGATE:  %s(%s)", q.Aggregation.Kind, q.Aggregation.Field)
		} else {
			ui.Info("  AGGREGATE:  %s", q.Aggregation.Kind)
		}
	}
	if q.Spatial != nil {
		ui.Info("  SPATIAL:    %s within %g %s of %s", q.Spatial.Operator, q.Spatial.Distance, q.Spatial.DistanceUnit, q.Spatial.LocationName)
	}
	ui.Info("  Confidence: %.2f (%s)", q.Confidence, q.ConfidenceLevel())
	if q.Explanation != "" {
		ui.Info("  %s", q.Explanation)
	}
	if q.CacheHit {
		ui.Debug("  (served from compile cache)")
	}
	for _, w := range q.Warnings {
		ui.Warn("  warning: %s", w)
	}
	for _, s := range q.Suggestions {
		ui.Info("  suggestion: %s", s)
	}
}

func printResults(rs *executor.ResultSet) {
	ui.Section("Results")

	if rs.Aggregation != nil {
		agg := rs.Aggregation
		if agg.Field != "" {
			ui.Success("%s(%s) = %g (over %d values)", agg.Kind, agg.Field, agg.Result, agg.Counted)
		} else {
			ui.Success("%s = %g", agg.Kind, agg.Result)
		}
	} else {
		ui.Success("%d features", rs.Count)
		printFeatureTable(rs.Features)
	}

	if rs.Truncated {
		ui.Warn("Result set was truncated by the page cap")
	}
	for _, w := range rs.Warnings {
		ui.Warn("warning: %s", w)
	}
}

// printFeatureTable renders up to 20 features using the common county
// dataset columns when present.
func printFeatureTable(features []source.Feature) {
	if len(features) == 0 {
		return
	}

	shown := features
	if len(shown) > 20 {
		shown = shown[:20]
	}

	rows := make([][]string, 0, len(shown))
	for _, f := range shown {
		rows = append(rows, []string{
			propDisplay(f, "NAME"),
			propDisplay(f, "STATE_NAME"),
			propDisplay(f, "SQMI"),
			propDisplay(f, "POPULATION"),
		})
	}
	ui.Table([]string{"NAME", "STATE", "SQMI", "POPULATION"}, rows)

	if len(features) > len(shown) {
		ui.Info("... and %d more", len(features)-len(shown))
	}
}

func propDisplay(f source.Feature, field string) string {
	v, ok := f.Properties[field]
	if !ok || v == nil {
		return "-"
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%.2f", n)
	default:
		return fmt.Sprint(v)
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default_user"
}
