// Package journal keeps a local history of reencryption runs. Writes are
// best-effort: the pipeline must never be blocked by journal trouble, so the
// front end logs journal errors and moves on.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Journal wraps the SQLite database connection
type Journal struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal database at the given path.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure journal: %w", err)
	}

	j := &Journal{conn: conn, path: path}
	if err := j.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return j, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.conn.Close()
}

// Path returns the journal file path
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) migrate() error {
	_, err := j.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	var version int
	err = j.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return err
	}

	migrations := []string{
		migrationV1,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := j.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

const migrationV1 = `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device TEXT NOT NULL,
		steps TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id);
`

// Run is one recorded pipeline run.
type Run struct {
	ID         int64
	Device     string
	Steps      []string
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// BeginRun records the start of a pipeline run and returns its id.
func (j *Journal) BeginRun(device string, steps []string) (int64, error) {
	res, err := j.conn.Exec(
		"INSERT INTO runs (device, steps) VALUES (?, ?)",
		device, strings.Join(steps, ","),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	return res.LastInsertId()
}

// RecordStep notes that a step has begun within a run.
func (j *Journal) RecordStep(runID int64, seq int, name string) error {
	_, err := j.conn.Exec(
		"INSERT INTO run_steps (run_id, seq, name) VALUES (?, ?, ?)",
		runID, seq, name,
	)
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal state. errMsg is empty on success.
func (j *Journal) FinishRun(runID int64, outcome, errMsg string) error {
	_, err := j.conn.Exec(
		"UPDATE runs SET outcome = ?, error = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?",
		outcome, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (j *Journal) RecentRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.conn.Query(`
		SELECT id, device, steps, outcome, error, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var steps string
		var errMsg sql.NullString
		var finished sql.NullTime

		if err := rows.Scan(&run.ID, &run.Device, &steps, &run.Outcome, &errMsg, &run.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if steps != "" {
			run.Steps = strings.Split(steps, ",")
		}
		run.Error = errMsg.String
		if finished.Valid {
			t := finished.Time
			run.FinishedAt = &t
		}
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}
