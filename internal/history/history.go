// Package history keeps a local SQLite record of deploy runs and their phases under
// <project root>/.astrodeploy/history.sqlite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/astrodeploy/internal/deployment"
	_ "modernc.org/sqlite"
)

// RelPath is the database location relative to the project root.
const RelPath = ".astrodeploy/history.sqlite"

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one deploy as stored.
type RunRecord struct {
	RunID      string     `json:"runId" yaml:"runId"`
	Platform   string     `json:"platform" yaml:"platform"`
	VarsFile   string     `json:"varsFile" yaml:"varsFile"`
	StateFile  string     `json:"stateFile" yaml:"stateFile"`
	Status     string     `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// PhaseRecord is one phase of a deploy as stored.
type PhaseRecord struct {
	Phase      string     `json:"phase" yaml:"phase"`
	Status     string     `json:"status" yaml:"status"`
	Error      string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`
}

// Store is the run history database. It implements deployment.Recorder.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
	now      func() time.Time
}

var _ deployment.Recorder = (*Store)(nil)

// Path returns the database path for a project root.
func Path(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(abs, RelPath), nil
}

// Open opens the history of the project at root. A read-only store requires the
// database to exist already.
func Open(root string, readOnly bool) (*Store, error) {
	path, err := Path(root)
	if err != nil {
		return nil, err
	}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly, now: func() time.Time { return time.Now().UTC() }}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS astrodeploy_runs (
  run_id TEXT PRIMARY KEY,
  platform TEXT NOT NULL,
  vars_file TEXT NOT NULL,
  state_file TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS astrodeploy_phases (
  run_id TEXT NOT NULL,
  phase TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL,
  PRIMARY KEY (run_id, phase),
  FOREIGN KEY (run_id) REFERENCES astrodeploy_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_astrodeploy_runs_started ON astrodeploy_runs(started_at_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) StartRun(ctx context.Context, run deployment.Run) error {
	started := run.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO astrodeploy_runs (run_id, platform, vars_file, state_file, status, error, started_at_ns, finished_at_ns)
VALUES (?, ?, ?, ?, ?, '', ?, 0)
`, run.ID, run.Platform, run.VarsFile, run.StateFile, StatusRunning, started.UnixNano())
	return err
}

func (s *Store) StartPhase(ctx context.Context, runID string, phase deployment.Phase) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO astrodeploy_phases (run_id, phase, status, error, started_at_ns, finished_at_ns)
VALUES (?, ?, ?, '', ?, 0)
ON CONFLICT (run_id, phase) DO UPDATE SET status = excluded.status, error = '', started_at_ns = excluded.started_at_ns, finished_at_ns = 0
`, runID, string(phase), StatusRunning, s.now().UnixNano())
	return err
}

func (s *Store) FinishPhase(ctx context.Context, runID string, phase deployment.Phase, phaseErr error) error {
	status, msg := outcome(phaseErr)
	res, err := s.db.ExecContext(ctx, `
UPDATE astrodeploy_phases SET status = ?, error = ?, finished_at_ns = ?
WHERE run_id = ? AND phase = ?
`, status, msg, s.now().UnixNano(), runID, string(phase))
	if err != nil {
		return err
	}
	return requireRow(res, runID)
}

func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := outcome(runErr)
	res, err := s.db.ExecContext(ctx, `
UPDATE astrodeploy_runs SET status = ?, error = ?, finished_at_ns = ?
WHERE run_id = ?
`, status, msg, s.now().UnixNano(), runID)
	if err != nil {
		return err
	}
	return requireRow(res, runID)
}

// List returns the most recent runs first. A non-positive limit means 20.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, platform, vars_file, state_file, status, error, started_at_ns, finished_at_ns
FROM astrodeploy_runs
ORDER BY started_at_ns DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, platform, vars_file, state_file, status, error, started_at_ns, finished_at_ns
FROM astrodeploy_runs WHERE run_id = ?
`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return rec, err
}

// Phases returns the phases of a run in the order they started.
func (s *Store) Phases(ctx context.Context, runID string) ([]PhaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT phase, status, error, started_at_ns, finished_at_ns
FROM astrodeploy_phases WHERE run_id = ?
ORDER BY started_at_ns, rowid
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PhaseRecord
	for rows.Next() {
		var rec PhaseRecord
		var started, finished int64
		if err := rows.Scan(&rec.Phase, &rec.Status, &rec.Error, &started, &finished); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, started).UTC()
		rec.FinishedAt = finishedAt(finished)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var started, finished int64
	if err := row.Scan(&rec.RunID, &rec.Platform, &rec.VarsFile, &rec.StateFile, &rec.Status, &rec.Error, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	rec.StartedAt = time.Unix(0, started).UTC()
	rec.FinishedAt = finishedAt(finished)
	return rec, nil
}

func finishedAt(ns int64) *time.Time {
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, ns).UTC()
	return &t
}

func outcome(err error) (string, string) {
	if err != nil {
		return StatusFailed, strings.TrimSpace(err.Error())
	}
	return StatusSucceeded, ""
}

func requireRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
