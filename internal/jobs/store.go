package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Status tracks the lifecycle of one engine run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Job is one recorded engine run.
type Job struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Operation    string    `json:"operation"`
	OutputID     string    `json:"output_id"`
	Argv         string    `json:"argv,omitempty"`
	Status       Status    `json:"status"`
	LogTail      string    `json:"log_tail,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMS   int64     `json:"duration_ms"`
}

// Start carries the fields known before the engine launches.
type Start struct {
	RequestID string
	Operation string
	OutputID  string
	Argv      []string
}

// Store manages the audit trail backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the jobs database at the given path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("jobs database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Begin records a run the moment it launches and returns its job ID.
func (s *Store) Begin(ctx context.Context, start Start) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (request_id, operation, output_id, argv, status, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		nullableString(start.RequestID),
		start.Operation,
		start.OutputID,
		nullableString(strings.Join(start.Argv, " ")),
		string(StatusRunning),
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// Finish closes out a running job with its terminal status.
func (s *Store) Finish(ctx context.Context, id int64, status Status, logTail []string, runErr error) error {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("finish job %d: not found", id)
	}

	now := time.Now().UTC()
	errorMessage := ""
	if runErr != nil {
		errorMessage = runErr.Error()
	}
	_, err = s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, log_tail = ?, error_message = ?, finished_at = ?, duration_ms = ?
         WHERE id = ?`,
		string(status),
		nullableString(strings.Join(logTail, "\n")),
		nullableString(errorMessage),
		now.Format(time.RFC3339Nano),
		now.Sub(job.StartedAt).Milliseconds(),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier, returning nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Recent returns the most recently started jobs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

const jobColumns = "id, request_id, operation, output_id, argv, status, log_tail, error_message, started_at, finished_at, duration_ms"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		requestID    sql.NullString
		operation    string
		outputID     string
		argv         sql.NullString
		statusStr    string
		logTail      sql.NullString
		errorMessage sql.NullString
		startedRaw   string
		finishedRaw  sql.NullString
		durationMS   int64
	)

	if err := scanner.Scan(
		&id,
		&requestID,
		&operation,
		&outputID,
		&argv,
		&statusStr,
		&logTail,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
		&durationMS,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		RequestID:    requestID.String,
		Operation:    operation,
		OutputID:     outputID,
		Argv:         argv.String,
		Status:       Status(statusStr),
		LogTail:      logTail.String,
		ErrorMessage: errorMessage.String,
		DurationMS:   durationMS,
	}
	job.StartedAt = parseTimestamp(startedRaw)
	if finishedRaw.Valid {
		job.FinishedAt = parseTimestamp(finishedRaw.String)
	}
	return job, nil
}

func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
