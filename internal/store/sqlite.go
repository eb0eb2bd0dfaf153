package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/procjoin/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    unit        TEXT NOT NULL,
    backend     TEXT NOT NULL,
    count       INTEGER NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createHandlesTable = `
CREATE TABLE IF NOT EXISTS handles (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    seq         INTEGER NOT NULL,
    backend     TEXT NOT NULL,
    pid         INTEGER NOT NULL DEFAULT 0,
    status      TEXT NOT NULL,
    outcome     TEXT NOT NULL DEFAULT '',
    value       INTEGER,
    exit_code   INTEGER,
    error       TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createHandlesRunIndex = `CREATE INDEX IF NOT EXISTS idx_handles_run_id ON handles (run_id, seq)`

const runColumns = `id, unit, backend, count, status, error, duration_ms, created_at, finished_at`

const handleColumns = `id, run_id, seq, backend, pid, status, outcome, value, exit_code, error,
	created_at, started_at, finished_at`

// ErrNotFound is returned when a run or handle is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
// Use ":memory:" for a ledger that lives only as long as the process.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createRunsTable, createHandlesTable, createHandlesRunIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Unit, r.Backend, r.Count, r.Status, r.Error, r.DurationMS, r.CreatedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status, error and duration of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.Run) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, duration_ms = ?, finished_at = ? WHERE id = ?`,
		r.Status, r.Error, r.DurationMS, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkAffected(result)
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// CreateHandle inserts a new handle record. The handle must be in the created state.
func (s *SQLiteStore) CreateHandle(ctx context.Context, h *model.Handle) error {
	if h.Status != model.StatusCreated {
		return fmt.Errorf("%w: new handle has status %q", ErrInvalidTransition, h.Status)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO handles (`+handleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.RunID, h.Seq, h.Backend, h.PID, h.Status, h.Outcome, h.Value, h.ExitCode, h.Error,
		h.CreatedAt, h.StartedAt, h.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert handle: %w", err)
	}
	return nil
}

// StartHandle moves a handle to the started state and records its PID.
func (s *SQLiteStore) StartHandle(ctx context.Context, id string, pid int) error {
	return s.transition(ctx, id, model.StatusStarted,
		`UPDATE handles SET status = ?, pid = ?, started_at = ? WHERE id = ?`,
		model.StatusStarted, pid, time.Now().UTC(), id,
	)
}

// FinishHandle moves a handle to the terminated state and records its outcome.
// A zero FinishedAt is replaced with the current time.
func (s *SQLiteStore) FinishHandle(ctx context.Context, h *model.Handle) error {
	finished := time.Now().UTC()
	if h.FinishedAt != nil {
		finished = *h.FinishedAt
	}
	return s.transition(ctx, h.ID, model.StatusTerminated,
		`UPDATE handles SET status = ?, outcome = ?, value = ?, exit_code = ?, error = ?, finished_at = ? WHERE id = ?`,
		model.StatusTerminated, h.Outcome, h.Value, h.ExitCode, h.Error, finished, h.ID,
	)
}

// transition checks the current status of handle id against to and, if the
// move is valid, runs the update in the same transaction.
func (s *SQLiteStore) transition(ctx context.Context, id, to, query string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var from string
	err = tx.QueryRowContext(ctx, "SELECT status FROM handles WHERE id = ?", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read handle status: %w", err)
	}

	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update handle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetHandle retrieves a handle by ID.
func (s *SQLiteStore) GetHandle(ctx context.Context, id string) (*model.Handle, error) {
	h, err := scanHandle(s.db.QueryRowContext(ctx,
		`SELECT `+handleColumns+` FROM handles WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get handle: %w", err)
	}
	return h, nil
}

// ListHandles returns the handles of a run in spawn order.
func (s *SQLiteStore) ListHandles(ctx context.Context, runID string) ([]*model.Handle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+handleColumns+` FROM handles WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list handles: %w", err)
	}
	defer rows.Close()

	var handles []*model.Handle
	for rows.Next() {
		h, err := scanHandle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handles: %w", err)
	}
	return handles, nil
}

// GetRunStats returns aggregate statistics across all runs and handles.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &RunStats{
		RunsByStatus:     make(map[string]int),
		HandlesByOutcome: make(map[string]int),
		HandlesByBackend: make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&stats.TotalRuns); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM handles").Scan(&stats.TotalHandles); err != nil {
		return nil, fmt.Errorf("count handles: %w", err)
	}

	groupings := []struct {
		query string
		into  map[string]int
	}{
		{"SELECT status, COUNT(*) FROM runs GROUP BY status", stats.RunsByStatus},
		{"SELECT outcome, COUNT(*) FROM handles WHERE outcome != '' GROUP BY outcome", stats.HandlesByOutcome},
		{"SELECT backend, COUNT(*) FROM handles GROUP BY backend", stats.HandlesByBackend},
	}
	for _, g := range groupings {
		if err := countInto(ctx, tx, g.query, g.into); err != nil {
			return nil, err
		}
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE duration_ms IS NOT NULL",
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgRunDurationMS = avg.Float64
	}

	return stats, nil
}

func countInto(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	r := &model.Run{}
	if err := sc.Scan(
		&r.ID, &r.Unit, &r.Backend, &r.Count, &r.Status, &r.Error,
		&r.DurationMS, &r.CreatedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	return r, nil
}

func scanHandle(sc scanner) (*model.Handle, error) {
	h := &model.Handle{}
	if err := sc.Scan(
		&h.ID, &h.RunID, &h.Seq, &h.Backend, &h.PID, &h.Status, &h.Outcome,
		&h.Value, &h.ExitCode, &h.Error, &h.CreatedAt, &h.StartedAt, &h.FinishedAt,
	); err != nil {
		return nil, err
	}
	return h, nil
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
