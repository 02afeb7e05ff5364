package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// EventRow is one coordinator event persisted to the journal.
type EventRow struct {
	RunID  string
	Seq    int64
	Time   time.Time
	Type   string
	Symbol string
	Detail string
}

// QualityRow is one end-of-day quality summary for a (symbol, interval).
type QualityRow struct {
	RunID    string
	Date     string // exchange-local YYYY-MM-DD
	Symbol   string
	Interval string
	Quality  float64
	GapCount int
}

// SQLiteJournal records coordinator events and daily quality summaries for
// post-run analysis.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the journal database at dbPath and runs
// the schema migration.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	const schema = `
CREATE TABLE IF NOT EXISTS events (
	run_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	ts     INTEGER NOT NULL,
	type   TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, seq)
);
CREATE TABLE IF NOT EXISTS quality_daily (
	run_id    TEXT NOT NULL,
	date      TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	interval  TEXT NOT NULL,
	quality   REAL NOT NULL,
	gap_count INTEGER NOT NULL,
	PRIMARY KEY (run_id, date, symbol, interval)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// AppendEvent inserts one event row.
func (j *SQLiteJournal) AppendEvent(ctx context.Context, row EventRow) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, ts, type, symbol, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		row.RunID, row.Seq, row.Time.UnixMilli(), row.Type, row.Symbol, row.Detail)
	return err
}

// ListEvents returns up to limit events for the run, ordered by sequence.
func (j *SQLiteJournal) ListEvents(ctx context.Context, runID string, limit int) ([]EventRow, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, seq, ts, type, symbol, detail FROM events WHERE run_id = ? ORDER BY seq LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var r EventRow
		var ms int64
		if err := rows.Scan(&r.RunID, &r.Seq, &ms, &r.Type, &r.Symbol, &r.Detail); err != nil {
			return nil, err
		}
		r.Time = time.UnixMilli(ms)
		events = append(events, r)
	}
	return events, rows.Err()
}

// WriteQualitySummary upserts end-of-day quality rows.
func (j *SQLiteJournal) WriteQualitySummary(ctx context.Context, qrows []QualityRow) error {
	for _, r := range qrows {
		_, err := j.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO quality_daily (run_id, date, symbol, interval, quality, gap_count)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Date, r.Symbol, r.Interval, r.Quality, r.GapCount)
		if err != nil {
			return fmt.Errorf("writing quality row for %s/%s: %w", r.Symbol, r.Interval, err)
		}
	}
	return nil
}

// QualitySummary returns the quality rows for one run and date.
func (j *SQLiteJournal) QualitySummary(ctx context.Context, runID, date string) ([]QualityRow, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, date, symbol, interval, quality, gap_count FROM quality_daily
		 WHERE run_id = ? AND date = ? ORDER BY symbol, interval`,
		runID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QualityRow
	for rows.Next() {
		var r QualityRow
		if err := rows.Scan(&r.RunID, &r.Date, &r.Symbol, &r.Interval, &r.Quality, &r.GapCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
