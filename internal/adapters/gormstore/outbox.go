package gormstore

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings/internal/domain"
	"gorm.io/gorm"
)

const (
	OutboxNew       = "NEW"
	OutboxPublished = "PUBLISHED"
	OutboxFailed    = "FAILED"
)

func insertOutbox(tx *gorm.DB, msg domain.OutboxMessage, now time.Time) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return tx.Create(&outboxRow{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		PayloadJSON:   msg.Payload,
		Status:        OutboxNew,
		NextAttemptAt: createdAt.UTC(),
		DedupeKey:     msg.DedupeKey,
		CreatedAt:     createdAt.UTC(),
	}).Error
}

// ClaimPending leases up to limit due messages by moving their
// next_attempt_at to now+lease.
func (s *Store) ClaimPending(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.OutboxMessage, error) {
	now = now.UTC()
	var rows []outboxRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ? AND next_attempt_at <= ?", OutboxNew, now).
			Order("created_at ASC").Limit(limit).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID.String())
		}
		return tx.Model(&outboxRow{}).Where("id IN ?", ids).Update("next_attempt_at", now.Add(lease)).Error
	})
	if err != nil {
		return nil, persistenceErr(err, "claim outbox")
	}

	msgs := make([]domain.OutboxMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, domain.OutboxMessage{
			ID:            r.ID,
			AggregateType: r.AggregateType,
			AggregateID:   r.AggregateID,
			EventType:     r.EventType,
			Payload:       r.PayloadJSON,
			Attempts:      r.Attempts,
			CreatedAt:     r.CreatedAt,
			DedupeKey:     r.DedupeKey,
		})
	}
	return msgs, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	at := publishedAt.UTC()
	return s.updateOutbox(ctx, id, map[string]any{"status": OutboxPublished, "published_at": &at, "last_error": nil})
}

func (s *Store) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return s.updateOutbox(ctx, id, map[string]any{"attempts": attempts, "next_attempt_at": next.UTC(), "last_error": lastErr})
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return s.updateOutbox(ctx, id, map[string]any{"status": OutboxFailed, "attempts": attempts, "last_error": lastErr})
}

func (s *Store) OutboxStatus(ctx context.Context, id uuid.UUID) (string, int, error) {
	var row outboxRow
	err := s.db.WithContext(ctx).Take(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, domain.ErrNotFound
	}
	if err != nil {
		return "", 0, persistenceErr(err, "outbox status")
	}
	return row.Status, row.Attempts, nil
}

func (s *Store) updateOutbox(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&outboxRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return persistenceErr(res.Error, "update outbox")
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// isDuplicate catches unique violations the sqlite driver does not map
// to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
