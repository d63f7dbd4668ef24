// Package registry maintains an advisory, cross-run SQLite index of
// completed and in-progress runs. It is populated from the run's
// configuration and outcome and is never consulted to decide where a run
// resumes — metrics_compact.csv alone settles that. Its only job is to let
// an operator ask "what runs exist and how did they turn out" without
// walking the run directory tree.
package registry

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Registry wraps the sqlite-backed run index.
type Registry struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate registry db: %w", err)
	}
	return &Registry{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	run_name       TEXT PRIMARY KEY,
	repo_path      TEXT NOT NULL,
	n_cells        INTEGER NOT NULL,
	n_per_cell     INTEGER NOT NULL,
	global_seed    INTEGER NOT NULL,
	status         TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	completed_at   TEXT
)`)
	return err
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunName     string
	RepoPath    string
	NCells      int
	NPerCell    int
	GlobalSeed  uint32
	Status      string // "running", "complete", "failed"
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Upsert inserts or updates a run's advisory record. On conflict it keeps
// the stored repo_path, global_seed and started_at and replaces the other
// columns.
func (r *Registry) Upsert(rec RunRecord) error {
	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = rec.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := r.db.Exec(`
INSERT INTO runs (run_name, repo_path, n_cells, n_per_cell, global_seed, status, started_at, updated_at, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_name) DO UPDATE SET
	n_cells = excluded.n_cells,
	n_per_cell = excluded.n_per_cell,
	status = excluded.status,
	updated_at = excluded.updated_at,
	completed_at = excluded.completed_at
`,
		rec.RunName, rec.RepoPath, rec.NCells, rec.NPerCell, rec.GlobalSeed, rec.Status,
		rec.StartedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return err
}

// List returns every known run, most recently updated first.
func (r *Registry) List() ([]RunRecord, error) {
	rows, err := r.db.Query(`SELECT run_name, repo_path, n_cells, n_per_cell, global_seed, status, started_at, updated_at, completed_at FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt, updatedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&rec.RunName, &rec.RepoPath, &rec.NCells, &rec.NPerCell, &rec.GlobalSeed, &rec.Status, &startedAt, &updatedAt, &completedAt); err != nil {
			return nil, err
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			rec.CompletedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Registry) Close() error {
	return r.db.Close()
}
