// Package discrepancy compares GIS-reported areas against a SQLite
// reference table and flags records whose percent difference exceeds a
// tolerance.
package discrepancy

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian-gis/geoquery/internal/observability"
	"github.com/meridian-gis/geoquery/internal/source"
)

// DefaultTable is the reference table name used when none is configured.
const DefaultTable = "county_reference"

// ReferenceRow is one authoritative area record.
type ReferenceRow struct {
	Name  string  `json:"name"`
	State string  `json:"state,omitempty"`
	SqMi  float64 `json:"sqmi"`
}

// Detail is one compared feature.
type Detail struct {
	Name              string  `json:"name"`
	State             string  `json:"state,omitempty"`
	GISSqMiles        float64 `json:"gis_sq_miles"`
	DBSqMiles         float64 `json:"db_sq_miles"`
	DifferenceSqMiles float64 `json:"difference_sq_miles"`
	PercentDifference float64 `json:"percent_difference"`
	Status            string  `json:"status"`
}

// Report summarizes one detection run.
type Report struct {
	TolerancePercent float64  `json:"tolerance_percent"`
	Compared         int      `json:"compared"`
	FlaggedCount     int      `json:"flagged_count"`
	MatchingCount    int      `json:"matching_count"`
	InvalidCount     int      `json:"invalid_features"`
	MissingInDB      []string `json:"missing_in_db"`
	Discrepancies    []Detail `json:"discrepancies"`
	Matches          []Detail `json:"matches"`
}

// Detector reads reference areas from SQLite.
type Detector struct {
	db     *sql.DB
	table  string
	logger *observability.Logger
}

// Open creates or opens the reference database at path and ensures the
// reference table exists. An empty table name selects DefaultTable.
func Open(path, table string, logger *observability.Logger) (*Detector, error) {
	if table == "" {
		table = DefaultTable
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening reference database: %w", err)
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT NOT NULL,
	state TEXT,
	sqmi REAL NOT NULL,
	PRIMARY KEY (name, state)
)`, table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing reference database: %w", err)
	}

	logger.Info().Str("path", path).Str("table", table).Msg("Reference database opened")
	return &Detector{db: db, table: table, logger: logger}, nil
}

// Seed replaces the reference table's contents with rows.
func (d *Detector) Seed(ctx context.Context, rows []ReferenceRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("discrepancy: reference rows must be non-empty")
	}
	for _, r := range rows {
		if r.Name == "" {
			return fmt.Errorf("discrepancy: every reference row needs a name")
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seeding reference database: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", d.table)); err != nil {
		return fmt.Errorf("seeding reference database: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (name, state, sqmi) VALUES (?, ?, ?)", d.table))
	if err != nil {
		return fmt.Errorf("seeding reference database: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Name, r.State, r.SqMi); err != nil {
			return fmt.Errorf("seeding reference database: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seeding reference database: %w", err)
	}

	d.logger.Info().Int("rows", len(rows)).Str("table", d.table).Msg("Seeded reference database")
	return nil
}

// Detect compares each feature's SQMI against the reference table and flags
// records whose absolute percent difference exceeds tolerancePercent.
func (d *Detector) Detect(ctx context.Context, features []source.Feature, tolerancePercent float64) (*Report, error) {
	if tolerancePercent < 0 {
		return nil, fmt.Errorf("discrepancy: tolerance must be non-negative")
	}

	reference, err := d.loadReference(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{TolerancePercent: tolerancePercent}
	for _, f := range features {
		name, _ := f.Properties["NAME"].(string)
		state, _ := f.Properties["STATE_NAME"].(string)

		gis, ok := propFloat(f, "SQMI")
		if !ok {
			report.InvalidCount++
			d.logger.Warn().Str("name", name).Str("state", state).Msg("Invalid GIS area value")
			continue
		}
		if name == "" {
			report.InvalidCount++
			d.logger.Warn().Str("state", state).Msg("Missing name on GIS feature")
			continue
		}

		ref, ok := reference[refKey(name, state)]
		if !ok {
			report.MissingInDB = append(report.MissingInDB, name)
			continue
		}

		if ref == 0 {
			report.InvalidCount++
			d.logger.Warn().Str("name", name).Str("state", state).Msg("Reference area is zero; skipping comparison")
			continue
		}
		report.Compared++

		diff := gis - ref
		percent := diff / ref * 100

		status := "GIS lower"
		if diff > 0 {
			status = "GIS higher"
		}
		detail := Detail{
			Name:              name,
			State:             state,
			GISSqMiles:        round2(gis),
			DBSqMiles:         round2(ref),
			DifferenceSqMiles: round2(diff),
			PercentDifference: round2(percent),
			Status:            status,
		}

		if math.Abs(percent) > tolerancePercent {
			report.FlaggedCount++
			report.Discrepancies = append(report.Discrepancies, detail)
			d.logger.Info().
				Str("name", name).
				Str("state", state).
				Float64("percent_difference", detail.PercentDifference).
				Float64("tolerance_percent", tolerancePercent).
				Msg("Area discrepancy detected")
		} else {
			report.MatchingCount++
			report.Matches = append(report.Matches, detail)
		}
	}

	d.logger.Info().
		Int("compared", report.Compared).
		Int("flagged", report.FlaggedCount).
		Int("matching", report.MatchingCount).
		Msg("Discrepancy detection completed")

	return report, nil
}

// Close releases the database handle.
func (d *Detector) Close() error {
	return d.db.Close()
}

func (d *Detector) loadReference(ctx context.Context) (map[string]float64, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf("SELECT name, COALESCE(state, ''), sqmi FROM %s", d.table))
	if err != nil {
		return nil, fmt.Errorf("reading reference table: %w", err)
	}
	defer rows.Close()

	reference := make(map[string]float64)
	for rows.Next() {
		var name, state string
		var sqmi float64
		if err := rows.Scan(&name, &state, &sqmi); err != nil {
			return nil, fmt.Errorf("reading reference table: %w", err)
		}
		if name == "" {
			continue
		}
		reference[refKey(name, state)] = sqmi
	}
	return reference, rows.Err()
}

func refKey(name, state string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "\x00" + strings.ToLower(strings.TrimSpace(state))
}

func propFloat(f source.Feature, field string) (float64, bool) {
	switch v := f.Properties[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
