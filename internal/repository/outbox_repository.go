package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"tienda/internal/model"
)

// outboxRepository implements OutboxRepository using PostgreSQL. The
// outbox is the durable queue for notification and shipment side effects:
// jobs survive restarts and are retried with backoff until done or dead.
type outboxRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOutboxRepository creates a new PostgreSQL-backed outbox repository.
func NewOutboxRepository(pool *pgxpool.Pool, logger zerolog.Logger) OutboxRepository {
	return &outboxRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "outbox").Logger(),
	}
}

// Enqueue appends a job ready at readyAt. The job rides the caller's
// transaction so it becomes visible exactly when the state change that
// produced it commits.
func (r *outboxRepository) Enqueue(ctx context.Context, tx pgx.Tx, kind string, payload []byte, readyAt time.Time) error {
	query := `
		INSERT INTO outbox (kind, payload, status, retry_count, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 0, $4, NOW())
	`

	_, err := tx.Exec(ctx, query, kind, payload, model.OutboxStatusPending, readyAt)
	if err != nil {
		r.logger.Error().Err(err).Str("kind", kind).Msg("failed to enqueue job")
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	r.logger.Debug().Str("kind", kind).Time("ready_at", readyAt).Msg("job enqueued")
	return nil
}

// Due claims up to limit pending jobs whose ready time has passed. The
// SKIP LOCKED clause lets multiple workers poll without contention.
func (r *outboxRepository) Due(ctx context.Context, limit int) ([]model.OutboxJob, error) {
	query := `
		SELECT id, kind, payload, status, retry_count, next_attempt_at, created_at
		FROM outbox
		WHERE status = $1 AND next_attempt_at <= NOW()
		ORDER BY next_attempt_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.pool.Query(ctx, query, model.OutboxStatusPending, limit)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to query due jobs")
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.OutboxJob
	for rows.Next() {
		var j model.OutboxJob
		err := rows.Scan(&j.ID, &j.Kind, &j.Payload, &j.Status, &j.RetryCount, &j.NextAttemptAt, &j.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkDone finishes a job.
func (r *outboxRepository) MarkDone(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE outbox SET status = $1 WHERE id = $2`, model.OutboxStatusDone, id)
	if err != nil {
		r.logger.Error().Err(err).Int64("job_id", id).Msg("failed to mark job done")
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

// MarkFailed schedules a retry with exponential backoff, or marks the job
// dead once maxAttempts is exhausted.
func (r *outboxRepository) MarkFailed(ctx context.Context, id int64, maxAttempts int) error {
	query := `
		UPDATE outbox
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= $1 THEN $2 ELSE status END,
		    next_attempt_at = NOW() + (interval '1 minute' * power(2, retry_count))
		WHERE id = $3
		RETURNING status, retry_count
	`

	var status string
	var retries int
	err := r.pool.QueryRow(ctx, query, maxAttempts, model.OutboxStatusDead, id).Scan(&status, &retries)
	if err != nil {
		r.logger.Error().Err(err).Int64("job_id", id).Msg("failed to mark job failed")
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	if status == model.OutboxStatusDead {
		r.logger.Error().
			Int64("job_id", id).
			Int("retries", retries).
			Msg("job exhausted retries, marked dead")
	}
	return nil
}
