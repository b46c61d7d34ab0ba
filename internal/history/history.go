// Package history keeps a local sqlite ledger of ingestion runs. Each
// run stores its summary columns plus the full daily snapshot as a
// msgpack blob, so the API can serve past runs without touching remote
// storage.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/zipaJopa/agent-results/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	date            TEXT NOT NULL,
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL,
	discovered      INTEGER NOT NULL DEFAULT 0,
	folded          INTEGER NOT NULL DEFAULT 0,
	skipped         INTEGER NOT NULL DEFAULT 0,
	error_count     INTEGER NOT NULL DEFAULT 0,
	grand_total_usd REAL NOT NULL DEFAULT 0,
	crypto_pnl_usd  REAL NOT NULL DEFAULT 0,
	fiat_value_usd  REAL NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	snapshot        BLOB
);
CREATE INDEX IF NOT EXISTS idx_runs_date ON runs(date);
`

// Run is one recorded ingestion run.
type Run struct {
	ID            string    `json:"id"`
	Date          string    `json:"date"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Discovered    int       `json:"discovered"`
	Folded        int       `json:"folded"`
	Skipped       int       `json:"skipped"`
	ErrorCount    int       `json:"error_count"`
	GrandTotalUSD float64   `json:"grand_total_usd"`
	CryptoPnLUSD  float64   `json:"crypto_pnl_usd"`
	FiatValueUSD  float64   `json:"fiat_value_usd"`
	Status        string    `json:"status"`
}

// Ledger is the sqlite-backed run history.
type Ledger struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open creates (or opens) the ledger database at the given path and
// applies the schema.
func Open(path string, log zerolog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	// WAL with NORMAL sync: run history is valuable but reproducible
	// from the remote snapshots.
	connStr := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply ledger schema: %w", err)
	}

	return &Ledger{
		db:  db,
		log: log.With().Str("component", "history").Logger(),
	}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun stores one run together with its snapshot.
func (l *Ledger) RecordRun(ctx context.Context, run Run, daily *metrics.Daily) error {
	var blob []byte
	if daily != nil {
		var err error
		blob, err = msgpack.Marshal(daily)
		if err != nil {
			return fmt.Errorf("failed to encode snapshot for run %s: %w", run.ID, err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, date, started_at, finished_at,
			discovered, folded, skipped, error_count,
			grand_total_usd, crypto_pnl_usd, fiat_value_usd,
			status, snapshot
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Date, run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.Discovered, run.Folded, run.Skipped, run.ErrorCount,
		run.GrandTotalUSD, run.CryptoPnLUSD, run.FiatValueUSD,
		run.Status, blob,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}

	l.log.Debug().Str("run_id", run.ID).Str("date", run.Date).Msg("Run recorded")
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, date, started_at, finished_at,
		       discovered, folded, skipped, error_count,
		       grand_total_usd, crypto_pnl_usd, fiat_value_usd, status
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt int64
		if err := rows.Scan(
			&r.ID, &r.Date, &startedAt, &finishedAt,
			&r.Discovered, &r.Folded, &r.Skipped, &r.ErrorCount,
			&r.GrandTotalUSD, &r.CryptoPnLUSD, &r.FiatValueUSD, &r.Status,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		r.FinishedAt = time.Unix(finishedAt, 0).UTC()
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// LatestSnapshot returns the snapshot of the most recent run for a date,
// or nil when no run with a snapshot exists.
func (l *Ledger) LatestSnapshot(ctx context.Context, date string) (*metrics.Daily, error) {
	var blob []byte
	err := l.db.QueryRowContext(ctx, `
		SELECT snapshot FROM runs
		WHERE date = ? AND snapshot IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1
	`, date).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", date, err)
	}

	var daily metrics.Daily
	if err := msgpack.Unmarshal(blob, &daily); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", date, err)
	}
	return &daily, nil
}
