package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"SeaIndexBridge/internal/domain"
	"SeaIndexBridge/internal/ports"
)

const historyTable = "analysis_sessions"

// ErrNotFound is returned by Get for an unknown session.
var ErrNotFound = errors.New("session not found")

var historyColumns = []string{
	"session_id",
	"file_name",
	"subject_id",
	"job_id",
	"phase",
	"score",
	"write_status",
	"write_code",
	"error_kind",
	"error_message",
	"started_at",
	"finished_at",
}

// HistoryRepository persists finished pipeline runs.
type HistoryRepository struct {
	db      *sql.DB
	dialect Dialect
	builder sq.StatementBuilderType
}

var _ ports.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository wires a sql.DB implementation.
func NewHistoryRepository(db *sql.DB, dialect Dialect) *HistoryRepository {
	builder := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if dialect == DialectPostgres {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return &HistoryRepository{db: db, dialect: dialect, builder: builder}
}

// Save upserts the run summary keyed by session id.
func (r *HistoryRepository) Save(ctx context.Context, s domain.SessionSummary) error {
	if r.db == nil {
		return nil
	}

	var score sql.NullFloat64
	if s.Score != nil {
		score = sql.NullFloat64{Float64: *s.Score, Valid: true}
	}

	insert := r.builder.Insert(historyTable).
		Columns(historyColumns...).
		Values(
			s.SessionID,
			s.FileName,
			s.SubjectID,
			s.JobID,
			string(s.Phase),
			score,
			string(s.WriteStatus),
			s.WriteCode,
			s.ErrorKind,
			s.ErrorMessage,
			toMillis(s.StartedAt),
			toMillis(s.FinishedAt),
		).
		Suffix(r.upsertSuffix())

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert session %s: %w", s.SessionID, err)
	}
	return nil
}

func (r *HistoryRepository) upsertSuffix() string {
	if r.dialect == DialectMySQL {
		return `ON DUPLICATE KEY UPDATE
			phase = VALUES(phase),
			job_id = VALUES(job_id),
			score = VALUES(score),
			write_status = VALUES(write_status),
			write_code = VALUES(write_code),
			error_kind = VALUES(error_kind),
			error_message = VALUES(error_message),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)`
	}
	return `ON CONFLICT (session_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			job_id = EXCLUDED.job_id,
			score = EXCLUDED.score,
			write_status = EXCLUDED.write_status,
			write_code = EXCLUDED.write_code,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at`
}

// List returns the most recent runs first. A zero limit means 50.
func (r *HistoryRepository) List(ctx context.Context, limit uint64) ([]domain.SessionSummary, error) {
	if r.db == nil {
		return nil, nil
	}
	if limit == 0 {
		limit = 50
	}

	query, args, err := r.builder.Select(historyColumns...).
		From(historyTable).
		OrderBy("started_at DESC", "session_id").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var result []domain.SessionSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		result = append(result, s)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

// Get loads one run by session id.
func (r *HistoryRepository) Get(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	if r.db == nil {
		return domain.SessionSummary{}, ErrNotFound
	}

	query, args, err := r.builder.Select(historyColumns...).
		From(historyTable).
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return domain.SessionSummary{}, fmt.Errorf("build get: %w", err)
	}

	s, err := scanSummary(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SessionSummary{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (domain.SessionSummary, error) {
	var (
		s           domain.SessionSummary
		phase       string
		writeStatus string
		score       sql.NullFloat64
		started     int64
		finished    int64
	)
	err := row.Scan(
		&s.SessionID,
		&s.FileName,
		&s.SubjectID,
		&s.JobID,
		&phase,
		&score,
		&writeStatus,
		&s.WriteCode,
		&s.ErrorKind,
		&s.ErrorMessage,
		&started,
		&finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SessionSummary{}, err
		}
		return domain.SessionSummary{}, fmt.Errorf("scan session: %w", err)
	}

	s.Phase = domain.Phase(phase)
	s.WriteStatus = domain.WriteStatus(writeStatus)
	if score.Valid {
		v := score.Float64
		s.Score = &v
	}
	s.StartedAt = fromMillis(started)
	s.FinishedAt = fromMillis(finished)
	return s, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
