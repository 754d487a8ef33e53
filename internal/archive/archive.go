// Package archive persists witness run receipts to a local SQLite database
// so CI history can be queried and diffed after the fact. The archive is
// append-only: a run is written once and never updated.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mrlecko/truth-capsules-sub001/internal/logging"
	"github.com/mrlecko/truth-capsules-sub001/internal/witness"
)

// Archive wraps the receipt database.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path and ensures the
// schema exists.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	a := &Archive{db: db}
	if err := a.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	logging.Archive("opened receipt archive at %s", path)
	return a, nil
}

func (a *Archive) Close() error { return a.db.Close() }

func (a *Archive) ensureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS capsule_receipts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			capsule_id TEXT NOT NULL,
			status TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS witness_receipts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			capsule_receipt_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			witness_name TEXT NOT NULL,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL,
			stdout TEXT,
			stderr TEXT,
			duration_ms INTEGER NOT NULL,
			infra_error TEXT,
			sandbox_provenance TEXT,
			FOREIGN KEY(capsule_receipt_id) REFERENCES capsule_receipts(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_capsule_receipts_run ON capsule_receipts(run_id);
		CREATE INDEX IF NOT EXISTS idx_capsule_receipts_capsule ON capsule_receipts(capsule_id);
	`
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating archive schema: %w", err)
	}
	return nil
}

// StoreRun writes a complete run report in one transaction.
func (a *Archive) StoreRun(ctx context.Context, report *witness.RunReport) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, exit_code) VALUES (?, ?, ?)`,
		report.RunID, report.StartedAt, report.ExitCode()); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for pos, cr := range report.Capsules {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO capsule_receipts (run_id, position, capsule_id, status) VALUES (?, ?, ?, ?)`,
			report.RunID, pos, cr.CapsuleID, cr.Status)
		if err != nil {
			return fmt.Errorf("inserting capsule receipt for %s: %w", cr.CapsuleID, err)
		}
		capsuleRowID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		for wpos, wr := range cr.WitnessResults {
			var provenance sql.NullString
			if wr.SandboxProvenance != nil {
				data, err := json.Marshal(wr.SandboxProvenance)
				if err != nil {
					return fmt.Errorf("encoding sandbox provenance: %w", err)
				}
				provenance = sql.NullString{String: string(data), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO witness_receipts (
					capsule_receipt_id, position, witness_name, status,
					exit_code, stdout, stderr, duration_ms, infra_error, sandbox_provenance
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				capsuleRowID, wpos, wr.WitnessName, wr.Status,
				wr.ExitCode, wr.Stdout, wr.Stderr, wr.DurationMs,
				nullable(wr.InfraError), provenance); err != nil {
				return fmt.Errorf("inserting witness receipt %s: %w", wr.WitnessName, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Archive("stored run %s (%d capsules)", report.RunID, len(report.Capsules))
	return nil
}

// RunSummary is one archived run.
type RunSummary struct {
	RunID     string
	StartedAt string
	ExitCode  int
	Capsules  int
}

// ListRuns returns the most recent runs, newest first.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.exit_code, COUNT(cr.id)
		FROM runs r
		LEFT JOIN capsule_receipts cr ON cr.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.RunID, &s.StartedAt, &s.ExitCode, &s.Capsules); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CapsuleHistory returns the archived statuses of one capsule, newest run
// first.
func (a *Archive) CapsuleHistory(ctx context.Context, capsuleID string, limit int) ([]witness.CapsuleReceipt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT cr.id, cr.capsule_id, cr.status
		FROM capsule_receipts cr
		JOIN runs r ON r.run_id = cr.run_id
		WHERE cr.capsule_id = ?
		ORDER BY r.started_at DESC, cr.id DESC
		LIMIT ?`, capsuleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type row struct {
		id      int64
		receipt witness.CapsuleReceipt
	}
	var entries []row
	for rows.Next() {
		var e row
		if err := rows.Scan(&e.id, &e.receipt.CapsuleID, &e.receipt.Status); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range entries {
		results, err := a.witnessResults(ctx, entries[i].id)
		if err != nil {
			return nil, err
		}
		entries[i].receipt.WitnessResults = results
	}

	out := make([]witness.CapsuleReceipt, len(entries))
	for i, e := range entries {
		out[i] = e.receipt
	}
	return out, nil
}

func (a *Archive) witnessResults(ctx context.Context, capsuleRowID int64) ([]witness.WitnessReceipt, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT witness_name, status, exit_code, stdout, stderr, duration_ms, infra_error, sandbox_provenance
		FROM witness_receipts
		WHERE capsule_receipt_id = ?
		ORDER BY position`, capsuleRowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []witness.WitnessReceipt
	for rows.Next() {
		var wr witness.WitnessReceipt
		var infraErr, provenance sql.NullString
		if err := rows.Scan(&wr.WitnessName, &wr.Status, &wr.ExitCode,
			&wr.Stdout, &wr.Stderr, &wr.DurationMs, &infraErr, &provenance); err != nil {
			return nil, err
		}
		wr.InfraError = infraErr.String
		if provenance.Valid {
			var sp witness.SandboxProvenance
			if err := json.Unmarshal([]byte(provenance.String), &sp); err == nil {
				wr.SandboxProvenance = &sp
			}
		}
		out = append(out, wr)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
