package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"retention-notifier/internal/push/domain"
)

// PostgresRepository stores jobs in push_queue.
//
// Chain inserts and ritual replacement run inside a transaction holding a per-user advisory lock,
// so every queue decision for a user (supersede, blocked-by and existence checks) serializes. One-shot types and the
// pending ritual are additionally backed by partial unique indexes.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a push job repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const jobColumns = `id, user_id, type, status, scheduled_at, sent_at, payload, attempts, last_error, created_at`

// InsertChain implements Repository.
func (r *PostgresRepository) InsertChain(ctx context.Context, in ChainInsert) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockUser(ctx, tx, in.UserID); err != nil {
		return 0, err
	}
	if len(in.Supersedes) > 0 {
		if _, err := deletePending(ctx, tx, in.UserID, in.Supersedes, false); err != nil {
			return 0, fmt.Errorf("delete superseded: %w", err)
		}
	}
	exists, err := hasPending(ctx, tx, in.UserID, append([]domain.Type{in.Type}, in.BlockedBy...))
	if err != nil {
		return 0, err
	}
	if exists || len(in.Jobs) == 0 {
		return 0, tx.Commit()
	}
	if err := insertJobs(ctx, tx, in.Jobs); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(in.Jobs), nil
}

// InsertOnce implements Repository. The existence check ignores status.
func (r *PostgresRepository) InsertOnce(ctx context.Context, job *domain.Job) (bool, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return false, err
	}
	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO push_queue (user_id, type, status, scheduled_at, payload)
		SELECT $1, $2, 'pending', $3, $4::jsonb
		WHERE NOT EXISTS (SELECT 1 FROM push_queue WHERE user_id = $1 AND type = $2)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		job.UserID, string(job.Type), job.ScheduledAt, string(payload)).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	job.ID = id
	job.Status = domain.StatusPending
	return true, nil
}

// ReplacePending implements Repository.
func (r *PostgresRepository) ReplacePending(ctx context.Context, job *domain.Job) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockUser(ctx, tx, job.UserID); err != nil {
		return err
	}
	if _, err := deletePending(ctx, tx, job.UserID, []domain.Type{job.Type}, false); err != nil {
		return err
	}
	if err := insertJobs(ctx, tx, []*domain.Job{job}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListDue implements Repository.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM push_queue
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ListByUser implements Repository.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM push_queue
		WHERE user_id = $1 ORDER BY scheduled_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// MarkSent implements Repository.
func (r *PostgresRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE push_queue
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, last_error = ''
		WHERE id = $1 AND status = 'pending'`, id, at)
	return err
}

// MarkFailed implements Repository.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, at time.Time, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE push_queue
		SET status = 'failed', sent_at = $2, attempts = attempts + 1, last_error = $3
		WHERE id = $1 AND status = 'pending'`, id, at, reason)
	return err
}

// Reschedule implements Repository.
func (r *PostgresRepository) Reschedule(ctx context.Context, id int64, at time.Time, attempts int, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE push_queue
		SET scheduled_at = $2, attempts = $3, last_error = $4
		WHERE id = $1 AND status = 'pending'`, id, at, attempts, reason)
	return err
}

// CountSentBetween implements Repository.
func (r *PostgresRepository) CountSentBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM push_queue
		WHERE status = 'sent' AND sent_at >= $1 AND sent_at < $2`, from, to).Scan(&n)
	return n, err
}

// DeletePending implements Repository.
func (r *PostgresRepository) DeletePending(ctx context.Context, userID int64, types ...domain.Type) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	return deletePending(ctx, r.db, userID, types, false)
}

// DeletePendingExcept implements Repository.
func (r *PostgresRepository) DeletePendingExcept(ctx context.Context, userID int64, keep ...domain.Type) (int64, error) {
	return deletePending(ctx, r.db, userID, keep, true)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lockUser(ctx context.Context, tx *sql.Tx, userID int64) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		fmt.Sprintf("push_queue:%d", userID))
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func hasPending(ctx context.Context, q execer, userID int64, types []domain.Type) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM push_queue WHERE user_id = $1 AND status = 'pending' AND type = ANY($2))`,
		userID, typeNames(types)).Scan(&exists)
	return exists, err
}

// deletePending removes pending rows whose type is in types, or not in types when except is set.
func deletePending(ctx context.Context, q execer, userID int64, types []domain.Type, except bool) (int64, error) {
	query := `DELETE FROM push_queue WHERE user_id = $1 AND status = 'pending' AND type = ANY($2)`
	if except {
		query = `DELETE FROM push_queue WHERE user_id = $1 AND status = 'pending' AND NOT (type = ANY($2))`
	}
	res, err := q.ExecContext(ctx, query, userID, typeNames(types))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func insertJobs(ctx context.Context, tx *sql.Tx, jobs []*domain.Job) error {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(jobs)*4)
	)
	sb.WriteString(`INSERT INTO push_queue (user_id, type, status, scheduled_at, payload) VALUES `)
	for i, j := range jobs {
		payload, err := json.Marshal(j.Payload)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, 'pending', $%d, $%d::jsonb)", n+1, n+2, n+3, n+4)
		args = append(args, j.UserID, string(j.Type), j.ScheduledAt, string(payload))
	}
	sb.WriteString(` RETURNING id`)

	rows, err := tx.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("insert jobs: %w", err)
	}
	defer rows.Close()
	for i := 0; rows.Next(); i++ {
		if err := rows.Scan(&jobs[i].ID); err != nil {
			return err
		}
		jobs[i].Status = domain.StatusPending
	}
	return rows.Err()
}

func scanJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer rows.Close()
	var out []*domain.Job
	for rows.Next() {
		var (
			j       domain.Job
			typ     string
			status  string
			sentAt  sql.NullTime
			payload []byte
		)
		if err := rows.Scan(&j.ID, &j.UserID, &typ, &status, &j.ScheduledAt, &sentAt, &payload, &j.Attempts, &j.LastError, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Type = domain.Type(typ)
		j.Status = domain.Status(status)
		if sentAt.Valid {
			t := sentAt.Time
			j.SentAt = &t
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &j.Payload); err != nil {
				return nil, fmt.Errorf("job %d payload: %w", j.ID, err)
			}
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func typeNames(types []domain.Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
