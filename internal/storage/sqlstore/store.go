// Package sqlstore keeps job tickets in SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brianly1003/pressd/internal/domain"
	"github.com/brianly1003/pressd/internal/domain/ports"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// schemaVersion is bumped when the jobs table changes shape.
const schemaVersion = 1

// PostgresConfig holds connection settings for a PostgreSQL server.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode,
	)
}

// Store is a JobRepository backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect string
	logger  zerolog.Logger
}

var _ ports.JobRepository = (*Store)(nil)

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under WAL
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return newStore(db, DialectSQLite, logger)
}

// OpenPostgres connects to PostgreSQL using dsn.
func OpenPostgres(dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return newStore(db, DialectPostgres, logger)
}

func newStore(db *sql.DB, dialect string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With().Str("component", "jobstore").Str("dialect", dialect).Logger(),
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS metadata (key TEXT PRIMARY KEY, value TEXT)`); err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow(s.rebind("SELECT value FROM metadata WHERE key = ?"), "schema_version")
	if err := row.Scan(&current); err != nil {
		current = 0
	}
	if current > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, schemaVersion)
	}

	blob := "BLOB"
	if s.dialect == DialectPostgres {
		blob = "BYTEA"
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			device_id TEXT NOT NULL,
			entry_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			ticket ` + blob + `,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	if current < schemaVersion {
		s.logger.Info().
			Int("old_version", current).
			Int("new_version", schemaVersion).
			Msg("job store schema initialized")
	}
	_, err := s.db.Exec(s.rebind(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`),
		"schema_version", strconv.Itoa(schemaVersion))
	return err
}

// Save inserts job or replaces the record with the same id.
func (s *Store) Save(ctx context.Context, job *ports.JobRecord) error {
	if job == nil || job.ID == "" {
		return domain.NewValidationError("id", "job id is required")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	query := s.rebind(`
		INSERT INTO jobs (id, name, device_id, entry_id, status, content_type, ticket, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			device_id = EXCLUDED.device_id,
			entry_id = EXCLUDED.entry_id,
			status = EXCLUDED.status,
			content_type = EXCLUDED.content_type,
			ticket = EXCLUDED.ticket,
			updated_at = EXCLUDED.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Name, job.DeviceID, job.EntryID, job.Status, job.ContentType,
		job.Ticket, job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get returns the job with id or domain.ErrJobNotFound.
func (s *Store) Get(ctx context.Context, id string) (*ports.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, device_id, entry_id, status, content_type, ticket, created_at, updated_at
		FROM jobs
		WHERE id = ?`), id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateStatus sets the status and queue entry of a job.
func (s *Store) UpdateStatus(ctx context.Context, id, status, entryID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET status = ?, entry_id = ?, updated_at = ? WHERE id = ?`),
		status, entryID, time.Now().UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return nil
}

// List returns up to limit jobs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*ports.JobRecord, error) {
	query := `
		SELECT id, name, device_id, entry_id, status, content_type, ticket, created_at, updated_at
		FROM jobs
		ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*ports.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Delete removes a job. Deleting a missing job is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM jobs WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() string {
	return s.dialect
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) rebind(query string) string {
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*ports.JobRecord, error) {
	var (
		job                  ports.JobRecord
		createdAt, updatedAt int64
	)
	if err := sc.Scan(
		&job.ID,
		&job.Name,
		&job.DeviceID,
		&job.EntryID,
		&job.Status,
		&job.ContentType,
		&job.Ticket,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &job, nil
}
