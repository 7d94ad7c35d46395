// Package pgstore implements dispatch.Store on PostgreSQL. Claims are a
// conditional UPDATE so several dispatch processes can share one table.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Keksclan/hearth/dispatch"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Config holds PostgreSQL connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store is a PostgreSQL backed dispatch.Store.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ dispatch.Store = (*Store)(nil)

// Open connects to PostgreSQL, applies pool settings and verifies the
// connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to postgres", slog.Int("max_open_conns", cfg.MaxOpenConns))
	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the jobs table and its indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// row mirrors a notification_jobs row.
type row struct {
	ID                string       `db:"id"`
	UserID            string       `db:"user_id"`
	TemplateKey       string       `db:"template_key"`
	TemplateData      []byte       `db:"template_data"`
	Priority          int          `db:"priority"`
	Status            string       `db:"status"`
	SendAt            time.Time    `db:"send_at"`
	CurrentRetryCount int          `db:"current_retry_count"`
	MaxRetryCount     int          `db:"max_retry_count"`
	ErrorMessage      string       `db:"error_message"`
	CreatedAt         time.Time    `db:"created_at"`
	SentAt            sql.NullTime `db:"sent_at"`
	ClaimedAt         sql.NullTime `db:"claimed_at"`
}

func (r *row) job() (dispatch.Job, error) {
	j := dispatch.Job{
		ID:                r.ID,
		UserID:            r.UserID,
		TemplateKey:       r.TemplateKey,
		Priority:          r.Priority,
		Status:            dispatch.Status(r.Status),
		SendAt:            r.SendAt,
		CurrentRetryCount: r.CurrentRetryCount,
		MaxRetryCount:     r.MaxRetryCount,
		ErrorMessage:      r.ErrorMessage,
		CreatedAt:         r.CreatedAt,
	}
	if len(r.TemplateData) > 0 {
		if err := json.Unmarshal(r.TemplateData, &j.TemplateData); err != nil {
			return dispatch.Job{}, fmt.Errorf("decode template data for job %s: %w", r.ID, err)
		}
	}
	if r.SentAt.Valid {
		t := r.SentAt.Time
		j.SentAt = &t
	}
	if r.ClaimedAt.Valid {
		t := r.ClaimedAt.Time
		j.ClaimedAt = &t
	}
	return j, nil
}

const columns = `id, user_id, template_key, template_data, priority, status, send_at,
	current_retry_count, max_retry_count, error_message, created_at, sent_at, claimed_at`

func (s *Store) Enqueue(ctx context.Context, job dispatch.Job) error {
	var data sql.NullString
	if job.TemplateData != nil {
		raw, err := json.Marshal(job.TemplateData)
		if err != nil {
			return fmt.Errorf("encode template data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_jobs (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.UserID, job.TemplateKey, data, job.Priority, string(job.Status), job.SendAt,
		job.CurrentRetryCount, job.MaxRetryCount, job.ErrorMessage, job.CreatedAt,
		nullTime(job.SentAt), nullTime(job.ClaimedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", dispatch.ErrDuplicateJob, job.ID)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (s *Store) Get(ctx context.Context, id string) (dispatch.Job, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+columns+` FROM notification_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Job{}, fmt.Errorf("%w: %s", dispatch.ErrJobNotFound, id)
	}
	if err != nil {
		return dispatch.Job{}, fmt.Errorf("get job: %w", err)
	}
	return r.job()
}

func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]dispatch.Job, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+columns+`
		FROM notification_jobs
		WHERE status = 'pending' AND send_at <= $1
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	jobs := make([]dispatch.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].job()
		if err != nil {
			// The row stays pending.
			s.logger.Error("skipping undecodable job", slog.String("error", err.Error()))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *Store) Claim(ctx context.Context, id string, now time.Time) (dispatch.Job, bool, error) {
	var r row
	err := s.db.QueryRowxContext(ctx, `
		UPDATE notification_jobs
		SET status = 'sending', claimed_at = $2
		WHERE id = $1 AND status = 'pending' AND send_at <= $2
		RETURNING `+columns, id, now).StructScan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Job{}, false, nil
	}
	if err != nil {
		return dispatch.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	j, err := r.job()
	if err != nil {
		return dispatch.Job{}, false, err
	}
	return j, true, nil
}

// transition runs an UPDATE restricted to jobs in the sending state.
func (s *Store) transition(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w or not sending: %s", dispatch.ErrJobNotFound, id)
	}
	return nil
}

func (s *Store) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	err := s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'sent', sent_at = $2, error_message = '', claimed_at = NULL
		WHERE id = $1 AND status = 'sending'`, sentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (s *Store) Reschedule(ctx context.Context, id string, retryCount int, sendAt time.Time, errMsg string) error {
	err := s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'pending', current_retry_count = $2, send_at = $3,
		    error_message = $4, claimed_at = NULL
		WHERE id = $1 AND status = 'sending'`, retryCount, sendAt, errMsg)
	if err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	err := s.transition(ctx, id, `
		UPDATE notification_jobs
		SET status = 'failed', current_retry_count = $2, error_message = $3, claimed_at = NULL
		WHERE id = $1 AND status = 'sending'`, retryCount, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *Store) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM notification_jobs
		WHERE status IN ('sent', 'failed') AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: rows affected: %w", err)
	}
	return int(n), nil
}

func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = 'pending', claimed_at = NULL
		WHERE status = 'sending' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: rows affected: %w", err)
	}
	return int(n), nil
}
