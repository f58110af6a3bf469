package jobhistory

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ModeSync       = "sync"
	ModeBackground = "background"

	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one persisted simulator invocation.
type Run struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	Log        string     `json:"log,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// ServiceStats holds lightweight health and volume counters for the status page.
type ServiceStats struct {
	Backend   string `json:"backend"`
	PingMS    int64  `json:"ping_ms"`
	RunsTotal int64  `json:"runs_total"`
	Failed24h int64  `json:"failed_24h"`
}

// Store persists run history in SQLite or MySQL through database/sql.
type Store struct {
	db           *sql.DB
	backend      string
	location     string
	queryTimeout time.Duration
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Backend names the driver behind the store ("sqlite" or "mysql").
func (s *Store) Backend() string {
	return s.backend
}

// Location is the SQLite path or MySQL host/db, for display only.
func (s *Store) Location() string {
	return s.location
}

func (s *Store) Record(ctx context.Context, run Run) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id required")
	}
	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO simulation_runs
  (id, filename, mode, status, exit_code, error, stdout, stderr, log, started_at, finished_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		run.ID, run.Filename, run.Mode, run.Status, exitCode, run.Error,
		run.Stdout, run.Stderr, run.Log, run.StartedAt.UTC(), finished, run.DurationMS,
	)
	if err != nil {
		return errors.Wrapf(err, "recording run %s", run.ID)
	}
	return nil
}

// List returns runs newest first without their captured output.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, filename, mode, status, exit_code, error, started_at, finished_at, duration_ms
FROM simulation_runs
ORDER BY started_at DESC, id
LIMIT ? OFFSET ?;
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "listing runs")
	}
	defer rows.Close()

	out := make([]Run, 0, limit)
	for rows.Next() {
		var (
			item     Run
			exitCode sql.NullInt64
			finished sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.Filename, &item.Mode, &item.Status, &exitCode, &item.Error,
			&item.StartedAt, &finished, &item.DurationMS); err != nil {
			return nil, err
		}
		item.ExitCode = nullIntPtr(exitCode)
		item.FinishedAt = nullTimePtr(finished)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		item     Run
		exitCode sql.NullInt64
		finished sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, filename, mode, status, exit_code, error, stdout, stderr, log, started_at, finished_at, duration_ms
FROM simulation_runs
WHERE id = ?;
`, strings.TrimSpace(id)).Scan(&item.ID, &item.Filename, &item.Mode, &item.Status, &exitCode, &item.Error,
		&item.Stdout, &item.Stderr, &item.Log, &item.StartedAt, &finished, &item.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading run %s", id)
	}
	item.ExitCode = nullIntPtr(exitCode)
	item.FinishedAt = nullTimePtr(finished)
	return &item, nil
}

// ServiceStats pings the database and counts recorded runs.
func (s *Store) ServiceStats(ctx context.Context) (*ServiceStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &ServiceStats{
		Backend: s.backend,
		PingMS:  time.Since(start).Milliseconds(),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM simulation_runs;`).Scan(&out.RunsTotal); err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM simulation_runs
WHERE status <> ?
  AND started_at >= ?;
`, StatusSucceeded, since).Scan(&out.Failed24h); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
