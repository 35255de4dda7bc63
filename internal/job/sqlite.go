package job

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists jobs in a SQLite database so they survive restarts.
type SQLiteRepository struct {
	db   *sql.DB
	path string

	// writeMu orders snapshot and upsert of concurrent saves.
	writeMu sync.Mutex
}

// OpenSQLiteRepository opens or creates the job database at path.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Progress updates write often; a single connection keeps them ordered.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	repo := &SQLiteRepository{db: db, path: path}
	if err := repo.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Path returns the database file location.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	var tableExists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return r.createSchema(ctx)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (r *SQLiteRepository) createSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Save inserts job or replaces the stored version.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	snapshot := job.Clone()

	requestJSON, err := json.Marshal(snapshot.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	skippedJSON, err := marshalList(snapshot.SkippedAudioTracks)
	if err != nil {
		return fmt.Errorf("marshal skipped audio tracks: %w", err)
	}
	tempJSON, err := marshalList(snapshot.TempFiles)
	if err != nil {
		return fmt.Errorf("marshal temp files: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO export_jobs (
            id, status, progress, error, error_kind, output_path, video_url, push_to_s3,
            request_json, skipped_audio_json, temp_files_json,
            created_at, updated_at, started_at, completed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            progress = excluded.progress,
            error = excluded.error,
            error_kind = excluded.error_kind,
            output_path = excluded.output_path,
            video_url = excluded.video_url,
            push_to_s3 = excluded.push_to_s3,
            request_json = excluded.request_json,
            skipped_audio_json = excluded.skipped_audio_json,
            temp_files_json = excluded.temp_files_json,
            updated_at = excluded.updated_at,
            started_at = excluded.started_at,
            completed_at = excluded.completed_at`,
		snapshot.ID,
		string(snapshot.Status),
		snapshot.Progress,
		snapshot.Error,
		snapshot.ErrorKind,
		snapshot.OutputPath,
		snapshot.VideoURL,
		snapshot.PushToS3,
		string(requestJSON),
		skippedJSON,
		tempJSON,
		formatTime(snapshot.CreatedAt),
		formatTime(snapshot.UpdatedAt),
		nullableTime(snapshot.StartedAt),
		nullableTime(snapshot.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", snapshot.ID, err)
	}
	return nil
}

const selectColumns = `SELECT id, status, progress, error, error_kind, output_path, video_url, push_to_s3,
    request_json, skipped_audio_json, temp_files_json,
    created_at, updated_at, started_at, completed_at
FROM export_jobs`

// FindByID returns the job with the given ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+" ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job from storage.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM export_jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                    Job
		status, requestJSON    string
		skippedJSON, tempJSON  sql.NullString
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(
		&job.ID, &status, &job.Progress, &job.Error, &job.ErrorKind,
		&job.OutputPath, &job.VideoURL, &job.PushToS3,
		&requestJSON, &skippedJSON, &tempJSON,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = Status(status)

	if err := json.Unmarshal([]byte(requestJSON), &job.Request); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := unmarshalList(skippedJSON, &job.SkippedAudioTracks); err != nil {
		return nil, fmt.Errorf("decode skipped audio tracks: %w", err)
	}
	if err := unmarshalList(tempJSON, &job.TempFiles); err != nil {
		return nil, fmt.Errorf("decode temp files: %w", err)
	}

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		if job.StartedAt, err = parseTime(startedAt.String); err != nil {
			return nil, err
		}
	}
	if completedAt.Valid {
		if job.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func marshalList[T any](items []T) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList[T any](s sql.NullString, dst *[]T) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
