package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const schema = `CREATE TABLE IF NOT EXISTS report_runs (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	zone           TEXT NOT NULL DEFAULT '',
	workbook_name  TEXT NOT NULL DEFAULT '',
	report_key     TEXT NOT NULL DEFAULT '',
	site_rows      INTEGER NOT NULL DEFAULT 0,
	down_rows      INTEGER NOT NULL DEFAULT 0,
	env_rows       INTEGER NOT NULL DEFAULT 0,
	critical_rows  INTEGER NOT NULL DEFAULT 0,
	total_down     INTEGER NOT NULL DEFAULT 0,
	partial_down   INTEGER NOT NULL DEFAULT 0,
	env_alarms     INTEGER NOT NULL DEFAULT 0,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS report_runs_created_at_idx ON report_runs (created_at DESC);`

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure report_runs schema: %w", err)
	}
	return nil
}

const runColumns = `id, kind, zone, workbook_name, report_key, site_rows, down_rows, env_rows,
	critical_rows, total_down, partial_down, env_alarms, duration_ms, created_at`

func (p *Postgres) RecordRun(ctx context.Context, input RunInput) (Run, error) {
	runID := input.ID
	if runID == "" {
		runID = uuid.NewString()
	}

	row := p.pool.QueryRow(
		ctx,
		`INSERT INTO report_runs (id, kind, zone, workbook_name, report_key, site_rows, down_rows,
		   env_rows, critical_rows, total_down, partial_down, env_alarms, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (id) DO UPDATE
		 SET report_key = EXCLUDED.report_key,
		     duration_ms = EXCLUDED.duration_ms
		 RETURNING `+runColumns,
		runID,
		input.Kind,
		input.Zone,
		input.WorkbookName,
		input.ReportKey,
		input.SiteRows,
		input.DownRows,
		input.EnvRows,
		input.CriticalRows,
		input.TotalDown,
		input.PartialDown,
		input.EnvAlarms,
		input.DurationMs,
	)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("record run: %w", err)
	}
	return run, nil
}

func (p *Postgres) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT `+runColumns+`
		 FROM report_runs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func (p *Postgres) ExpiredRuns(ctx context.Context, olderThan time.Time) ([]Run, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT `+runColumns+`
		 FROM report_runs
		 WHERE created_at < $1
		 ORDER BY created_at ASC`,
		olderThan,
	)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func (p *Postgres) DeleteRuns(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM report_runs WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectRuns(rows pgx.Rows) ([]Run, error) {
	defer rows.Close()

	runs := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID,
		&run.Kind,
		&run.Zone,
		&run.WorkbookName,
		&run.ReportKey,
		&run.SiteRows,
		&run.DownRows,
		&run.EnvRows,
		&run.CriticalRows,
		&run.TotalDown,
		&run.PartialDown,
		&run.EnvAlarms,
		&run.DurationMs,
		&run.CreatedAt,
	)
	return run, err
}
