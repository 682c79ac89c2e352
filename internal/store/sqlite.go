package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS forecast_runs (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'running',
	started_at        DATETIME NOT NULL,
	completed_at      DATETIME,
	regions_processed INTEGER NOT NULL DEFAULT 0,
	skipped           TEXT NOT NULL DEFAULT '[]',
	non_convergent    TEXT NOT NULL DEFAULT '[]',
	rows_written      INTEGER NOT NULL DEFAULT 0,
	error             TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_forecast_runs_kind ON forecast_runs(kind);
CREATE INDEX IF NOT EXISTS idx_forecast_runs_started_at ON forecast_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind RunKind) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO forecast_runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, string(r.Kind), string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create run")
	}
	return r, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary RunSummary) error {
	skipped, err := encodeList(summary.Skipped)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal skipped regions")
	}
	nonConvergent, err := encodeList(summary.NonConvergent)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal non-convergent regions")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE forecast_runs SET status = ?, completed_at = ?, regions_processed = ?,
			skipped = ?, non_convergent = ?, rows_written = ? WHERE id = ?`,
		string(RunStatusComplete), time.Now().UTC(), summary.RegionsProcessed,
		skipped, nonConvergent, summary.Rows, runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: complete run")
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE forecast_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(RunStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: fail run")
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, kind, status, started_at, completed_at, regions_processed, skipped, non_convergent, rows_written, error`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM forecast_runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM forecast_runs WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC, rowid DESC LIMIT %d`, filter.limit())
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var (
		r                      Run
		kind, status           string
		completed              sql.NullTime
		skipped, nonConvergent string
	)
	if err := row.Scan(&r.ID, &kind, &status, &r.StartedAt, &completed,
		&r.RegionsProcessed, &skipped, &nonConvergent, &r.Rows, &r.Error); err != nil {
		return nil, err
	}
	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	var err error
	if r.Skipped, err = decodeList([]byte(skipped)); err != nil {
		return nil, eris.Wrap(err, "unmarshal skipped regions")
	}
	if r.NonConvergent, err = decodeList([]byte(nonConvergent)); err != nil {
		return nil, eris.Wrap(err, "unmarshal non-convergent regions")
	}
	return &r, nil
}

// encodeList stores region lists as JSON arrays; nil encodes as [].
func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}
