package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/parrot/pkg/models"
)

// Dialect selects placeholder style and DDL for a SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLConfig holds connection settings for SQL-backed stores.
type SQLConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns default connection pool settings.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		URL:             "sqlite://parrot.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Open returns the store selected by cfg.URL:
//
//	memory                      in-process MemoryStore
//	sqlite://path/to/file.db    SQLite through modernc.org/sqlite
//	sqlite://:memory:           ephemeral SQLite database
//	postgres://user@host/db     Postgres or CockroachDB through lib/pq
//
// SQL stores are migrated before being returned.
func Open(ctx context.Context, cfg SQLConfig) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	switch {
	case url == "" || url == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "sqlite://"):
		return openSQL(ctx, cfg, DialectSQLite, "sqlite", strings.TrimPrefix(url, "sqlite://"))
	case strings.HasPrefix(url, "file:"):
		return openSQL(ctx, cfg, DialectSQLite, "sqlite", url)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return openSQL(ctx, cfg, DialectPostgres, "postgres", url)
	default:
		return nil, fmt.Errorf("unsupported database url %q", url)
	}
}

func openSQL(ctx context.Context, cfg SQLConfig, dialect Dialect, driver, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite serializes writers; a single connection also keeps
		// :memory: databases from splitting across connections.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SQLStore implements Store on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	historyID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	timestamp := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		historyID = "id BIGSERIAL PRIMARY KEY"
		timestamp = "TIMESTAMPTZ"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS background_tasks (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			instructions TEXT NOT NULL,
			status TEXT NOT NULL,
			result_text TEXT,
			owner_id TEXT NOT NULL,
			model_override TEXT,
			timeout_seconds INTEGER NOT NULL,
			created_at ` + timestamp + ` NOT NULL,
			completed_at ` + timestamp + `
		)`,
		`CREATE INDEX IF NOT EXISTS background_tasks_owner_idx ON background_tasks (owner_id, status)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			schedule_expression TEXT NOT NULL,
			schedule_kind TEXT NOT NULL,
			message TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			timezone TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			delete_after_run BOOLEAN NOT NULL,
			run_count INTEGER NOT NULL DEFAULT 0,
			last_run_at ` + timestamp + `,
			last_status TEXT,
			last_error TEXT,
			created_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS job_runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at ` + timestamp + ` NOT NULL,
			completed_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS job_runs_job_idx ON job_runs (job_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS conversation_history (
			` + historyID + `,
			owner_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at ` + timestamp + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversation_history_owner_idx ON conversation_history (owner_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

// =============================================================================
// Background tasks
// =============================================================================

const taskColumns = `id, label, instructions, status, result_text, owner_id, model_override, timeout_seconds, created_at, completed_at`

func (s *SQLStore) CreateTask(ctx context.Context, task *models.BackgroundTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	_, err := s.exec(ctx, `INSERT INTO background_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Label,
		task.Instructions,
		string(task.Status),
		nullableString(task.ResultText),
		task.OwnerID,
		nullableString(task.ModelOverride),
		task.TimeoutSeconds,
		task.CreatedAt.UTC(),
		nullableTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, task *models.BackgroundTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	res, err := s.exec(ctx, `UPDATE background_tasks SET label = ?, instructions = ?, status = ?, result_text = ?, model_override = ?, timeout_seconds = ?, completed_at = ? WHERE id = ?`,
		task.Label,
		task.Instructions,
		string(task.Status),
		nullableString(task.ResultText),
		nullableString(task.ModelOverride),
		task.TimeoutSeconds,
		nullableTime(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.BackgroundTask, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM background_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *SQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.BackgroundTask, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.CompletedSince.IsZero() {
		where = append(where, "(completed_at IS NULL OR completed_at >= ?)")
		args = append(args, filter.CompletedSince.UTC())
	}
	query := `SELECT ` + taskColumns + ` FROM background_tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.BackgroundTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountTasks(ctx context.Context, ownerID string, status models.TaskStatus) (int, error) {
	query := `SELECT COUNT(*) FROM background_tasks WHERE 1 = 1`
	var args []any
	if ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

// =============================================================================
// Scheduled jobs and runs
// =============================================================================

const jobColumns = `id, name, schedule_expression, schedule_kind, message, owner_id, timezone, enabled, delete_after_run, run_count, last_run_at, last_status, last_error, created_at`

func (s *SQLStore) CreateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	_, err := s.exec(ctx, `INSERT INTO scheduled_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Name,
		job.ScheduleExpression,
		string(job.ScheduleKind),
		job.Message,
		job.OwnerID,
		job.Timezone,
		job.Enabled,
		job.DeleteAfterRun,
		job.RunCount,
		nullableTime(job.LastRunAt),
		nullableString(string(job.LastStatus)),
		nullableString(job.LastError),
		job.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateJob(ctx context.Context, job *models.ScheduledJob) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	res, err := s.exec(ctx, `UPDATE scheduled_jobs SET name = ?, schedule_expression = ?, schedule_kind = ?, message = ?, timezone = ?, enabled = ?, delete_after_run = ?, run_count = ?, last_run_at = ?, last_status = ?, last_error = ? WHERE id = ?`,
		job.Name,
		job.ScheduleExpression,
		string(job.ScheduleKind),
		job.Message,
		job.Timezone,
		job.Enabled,
		job.DeleteAfterRun,
		job.RunCount,
		nullableTime(job.LastRunAt),
		nullableString(string(job.LastStatus)),
		nullableString(job.LastError),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLStore) GetJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLStore) ListJobs(ctx context.Context, ownerID string) ([]*models.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scheduled_jobs`
	var args []any
	if ownerID != "" {
		query += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendRun(ctx context.Context, run *models.JobRun) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	_, err := s.exec(ctx, `INSERT INTO job_runs (id, job_id, job_name, status, error, started_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.JobID,
		run.JobName,
		string(run.Status),
		nullableString(run.Error),
		run.StartedAt.UTC(),
		run.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func (s *SQLStore) ListRuns(ctx context.Context, jobID string, limit int) ([]*models.JobRun, error) {
	query := `SELECT id, job_id, job_name, status, error, started_at, completed_at FROM job_runs`
	var args []any
	if jobID != "" {
		query += " WHERE job_id = ?"
		args = append(args, jobID)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.JobRun
	for rows.Next() {
		var (
			run     models.JobRun
			status  string
			errText sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.JobID, &run.JobName, &status, &errText, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = models.RunStatus(status)
		run.Error = errText.String
		out = append(out, &run)
	}
	return out, rows.Err()
}

// =============================================================================
// Conversation history
// =============================================================================

func (s *SQLStore) AppendHistory(ctx context.Context, entries ...*models.HistoryEntry) error {
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		created := entry.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		row := s.db.QueryRowContext(ctx, s.rebind(`INSERT INTO conversation_history (owner_id, role, content, created_at) VALUES (?, ?, ?, ?) RETURNING id`),
			entry.OwnerID, string(entry.Role), entry.Content, created.UTC())
		if err := row.Scan(&entry.ID); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) RecentHistory(ctx context.Context, ownerID string, limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, owner_id, role, content, created_at FROM conversation_history WHERE owner_id = ? ORDER BY id DESC LIMIT ?`), ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent history: %w", err)
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			entry models.HistoryEntry
			role  string
		)
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &role, &entry.Content, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entry.Role = models.Role(role)
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLStore) ClearHistory(ctx context.Context, ownerID string) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM conversation_history WHERE owner_id = ?`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// =============================================================================
// Helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.BackgroundTask, error) {
	var (
		task      models.BackgroundTask
		status    string
		result    sql.NullString
		model     sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&task.ID, &task.Label, &task.Instructions, &status, &result, &task.OwnerID,
		&model, &task.TimeoutSeconds, &task.CreatedAt, &completed); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	task.ResultText = result.String
	task.ModelOverride = model.String
	if completed.Valid {
		t := completed.Time
		task.CompletedAt = &t
	}
	return &task, nil
}

func scanJob(row rowScanner) (*models.ScheduledJob, error) {
	var (
		job        models.ScheduledJob
		kind       string
		lastRun    sql.NullTime
		lastStatus sql.NullString
		lastError  sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Name, &job.ScheduleExpression, &kind, &job.Message, &job.OwnerID,
		&job.Timezone, &job.Enabled, &job.DeleteAfterRun, &job.RunCount, &lastRun, &lastStatus, &lastError,
		&job.CreatedAt); err != nil {
		return nil, err
	}
	job.ScheduleKind = models.ScheduleKind(kind)
	job.LastStatus = models.RunStatus(lastStatus.String)
	job.LastError = lastError.String
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRunAt = &t
	}
	return &job, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

var _ Store = (*SQLStore)(nil)
