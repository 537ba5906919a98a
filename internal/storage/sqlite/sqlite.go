package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"nodesift/internal/storage/models"
)

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &DB{db: db}

	if err := runMigrations(store); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Run operations ─────────────────────────────────────────────────────────

func (d *DB) CreateRun(ctx context.Context, run *models.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	query := `INSERT INTO runs (mode, started_at) VALUES (?, ?)`
	result, err := d.db.ExecContext(ctx, query, run.Mode, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

func (d *DB) FinishRun(ctx context.Context, run *models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	query := `
		UPDATE runs
		SET finished_at = ?, total = ?, residential = ?, datacenter = ?, unknown = ?, failed = ?, error = ?
		WHERE id = ?
	`
	_, err := d.db.ExecContext(ctx, query,
		run.FinishedAt, run.Total, run.Residential, run.Datacenter, run.Unknown, run.Failed,
		run.Error, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (d *DB) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	query := `
		SELECT id, mode, started_at, finished_at, total, residential, datacenter, unknown, failed, error
		FROM runs WHERE id = ?
	`
	run := &models.Run{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Mode, &run.StartedAt, &run.FinishedAt,
		&run.Total, &run.Residential, &run.Datacenter, &run.Unknown, &run.Failed,
		&run.Error,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found")
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (d *DB) GetRecentRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, mode, started_at, finished_at, total, residential, datacenter, unknown, failed, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run := &models.Run{}
		if err := rows.Scan(
			&run.ID, &run.Mode, &run.StartedAt, &run.FinishedAt,
			&run.Total, &run.Residential, &run.Datacenter, &run.Unknown, &run.Failed,
			&run.Error,
		); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ─── Result operations ──────────────────────────────────────────────────────

func (d *DB) SaveResults(ctx context.Context, runID int64, results []*models.RunResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO run_results (run_id, node_name, node_type, server, port, ip, label, reason, asn, org, country, latency_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		res, err := stmt.ExecContext(ctx,
			runID, r.NodeName, r.NodeType, r.Server, r.Port,
			r.IP, r.Label, r.Reason, r.ASN, r.Org, r.Country, r.LatencyMS, r.Error,
		)
		if err != nil {
			return fmt.Errorf("failed to save result for %s: %w", r.NodeName, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = id
		r.RunID = runID
	}

	return tx.Commit()
}

func (d *DB) GetRunResults(ctx context.Context, runID int64) ([]*models.RunResult, error) {
	query := `
		SELECT id, run_id, node_name, node_type, server, port, ip, label, reason, asn, org, country, latency_ms, error
		FROM run_results WHERE run_id = ? ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.RunResult
	for rows.Next() {
		r := &models.RunResult{}
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.NodeName, &r.NodeType, &r.Server, &r.Port,
			&r.IP, &r.Label, &r.Reason, &r.ASN, &r.Org, &r.Country, &r.LatencyMS, &r.Error,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
