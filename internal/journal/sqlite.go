// Package journal keeps a SQLite history of archive acquisitions.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BadgerOps/repofetch/internal/safety"
)

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("acquisition not found")

// Journal provides SQLite-backed acquisition history
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at dbPath and runs migrations.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &Journal{db: db, logger: logger}

	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("journal opened", "path", dbPath)
	return j, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Record inserts e, assigning an ID when it has none. Error messages are
// masked before they are stored.
func (j *Journal) Record(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO acquisitions (
			id, owner, repo, ref, commit_sha, transport, mirror, target_dir,
			bytes, sha256, status, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.ExecContext(ctx, query,
		e.ID, e.Owner, e.Repo, e.Ref, e.Commit, e.Transport,
		safety.MaskUserinfo(e.Mirror), e.TargetDir, e.Bytes, e.SHA256, e.Status,
		safety.MaskUserinfo(e.ErrorMessage), e.StartTime.UTC(), nullTime(e.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert acquisition: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID.
func (j *Journal) Get(ctx context.Context, id string) (*Entry, error) {
	row := j.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query acquisition: %w", err)
	}
	return e, nil
}

// List returns entries newest first, optionally filtered by owner and repo.
// A limit of 0 means no limit.
func (j *Journal) List(ctx context.Context, owner, repo string, limit int) ([]Entry, error) {
	query := selectColumns
	var args []any
	switch {
	case owner != "" && repo != "":
		query += ` WHERE owner = ? AND repo = ?`
		args = append(args, owner, repo)
	case owner != "":
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY start_time DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query acquisitions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan acquisition: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating acquisitions: %w", err)
	}
	return entries, nil
}

// Prune deletes entries that started before cutoff and returns how many
// were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, `DELETE FROM acquisitions WHERE start_time < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune acquisitions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

const selectColumns = `
	SELECT id, owner, repo, ref, commit_sha, transport, mirror, target_dir,
	       bytes, sha256, status, error_message, start_time, end_time
	FROM acquisitions`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e                                           Entry
		ref, commit, transport, mirror, sum, errMsg sql.NullString
		end                                         sql.NullTime
	)
	err := s.Scan(
		&e.ID, &e.Owner, &e.Repo, &ref, &commit, &transport, &mirror, &e.TargetDir,
		&e.Bytes, &sum, &e.Status, &errMsg, &e.StartTime, &end,
	)
	if err != nil {
		return nil, err
	}
	e.Ref = ref.String
	e.Commit = commit.String
	e.Transport = transport.String
	e.Mirror = mirror.String
	e.SHA256 = sum.String
	e.ErrorMessage = errMsg.String
	if end.Valid {
		e.EndTime = end.Time
	}
	return &e, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
