// Package audit records every compilation in a local SQLite database so
// query activity can be reviewed after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meridian-gis/geoquery/internal/nlq"
	"github.com/meridian-gis/geoquery/internal/observability"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS compile_log (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	query_text TEXT NOT NULL,
	filter_expression TEXT NOT NULL,
	confidence REAL NOT NULL,
	complexity TEXT NOT NULL,
	cache_hit INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_compile_log_created_at ON compile_log (created_at);
`

// Entry is one recorded compilation.
type Entry struct {
	ID               string
	CreatedAt        time.Time
	QueryText        string
	FilterExpression string
	Confidence       float64
	Complexity       string
	CacheHit         bool
	DurationMS       int64
	Error            string
}

// Log writes compile records to SQLite.
type Log struct {
	db     *sql.DB
	logger *observability.Logger
}

// Open creates or opens the audit database at path and ensures the schema
// exists.
func Open(path string, logger *observability.Logger) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing audit log: %w", err)
	}

	logger.Info().Str("path", path).Msg("Audit log opened")
	return &Log{db: db, logger: logger}, nil
}

// RecordCompile stores the outcome of one compilation. A nil result with a
// non-nil compileErr records a failed compile.
func (l *Log) RecordCompile(ctx context.Context, queryText string, result *nlq.CompiledQuery, duration time.Duration, compileErr error) error {
	entry := Entry{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		QueryText:  queryText,
		DurationMS: duration.Milliseconds(),
	}
	if result != nil {
		entry.FilterExpression = result.FilterExpression
		entry.Confidence = result.Confidence
		entry.Complexity = string(result.Complexity)
		entry.CacheHit = result.CacheHit
	}
	if compileErr != nil {
		entry.Error = compileErr.Error()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO compile_log
			(id, created_at, query_text, filter_expression, confidence, complexity, cache_hit, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CreatedAt, entry.QueryText, entry.FilterExpression,
		entry.Confidence, entry.Complexity, entry.CacheHit, entry.DurationMS,
		nullable(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("recording compile: %w", err)
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, created_at, query_text, filter_expression, confidence, complexity, cache_hit, duration_ms, COALESCE(error, '')
		 FROM compile_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.QueryText, &e.FilterExpression,
			&e.Confidence, &e.Complexity, &e.CacheHit, &e.DurationMS, &e.Error); err != nil {
			return nil, fmt.Errorf("reading audit log: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
