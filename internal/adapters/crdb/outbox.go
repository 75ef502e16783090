package crdb

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-bookings/internal/domain"
)

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
	OutboxFailed    = "FAILED"
)

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, msg domain.OutboxMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key, created_at, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6, $7, $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.DedupeKey, createdAt)
	return err
}

// ClaimPending leases up to limit due messages by pushing their
// next_attempt_at past now+lease, so a concurrent publisher skips them.
func (r *Repository) ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE outbox SET next_attempt_at = $3
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'NEW' AND next_attempt_at <= $1
			ORDER BY created_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload_json, attempts, created_at, dedupe_key
	`, now, limit, now.Add(lease))
	if err != nil {
		return nil, persistenceErr(err, "claim outbox")
	}
	defer rows.Close()

	var msgs []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload, &m.Attempts, &m.CreatedAt, &m.DedupeKey); err != nil {
			return nil, persistenceErr(err, "scan outbox")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(err, "claim outbox")
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	return r.updateOutbox(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2, last_error = NULL WHERE id = $1
	`, id, publishedAt)
}

func (r *Repository) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return r.updateOutbox(ctx, `
		UPDATE outbox SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1
	`, id, attempts, next, lastErr)
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return r.updateOutbox(ctx, `
		UPDATE outbox SET status = 'FAILED', attempts = $2, last_error = $3 WHERE id = $1
	`, id, attempts, lastErr)
}

// OutboxStatus reports where a message is in its delivery lifecycle.
func (r *Repository) OutboxStatus(ctx context.Context, id uuid.UUID) (string, int, error) {
	var (
		status   string
		attempts int
	)
	err := r.pool.QueryRow(ctx, `SELECT status, attempts FROM outbox WHERE id = $1`, id).Scan(&status, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, domain.ErrNotFound
	}
	if err != nil {
		return "", 0, persistenceErr(err, "outbox status")
	}
	return status, attempts, nil
}

func (r *Repository) updateOutbox(ctx context.Context, sql string, args ...any) error {
	result, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return persistenceErr(err, "update outbox")
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
