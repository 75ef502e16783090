package gormstore

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"gorm.io/gorm"
)

const activeFirst = "CASE WHEN status = 'Cancelled' THEN 1 ELSE 0 END, created_at DESC, id DESC"

func (s *Store) CreateBooking(ctx context.Context, userID, postID int64, outbox domain.OutboxFunc) (*domain.Booking, bool, error) {
	var (
		booking *domain.Booking
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Exec(`
			INSERT INTO bookings (user_id, post_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, userID, postID, string(domain.StatusBooked), now, now)
		if res.Error != nil {
			return res.Error
		}

		var row bookingRow
		if err := tx.Where("user_id = ? AND post_id = ? AND status <> ?", userID, postID, string(domain.StatusCancelled)).
			Take(&row).Error; err != nil {
			return err
		}
		booking = row.toDomain()
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		if outbox == nil {
			return nil
		}
		msgs, err := outbox(booking)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := insertOutbox(tx, msg, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
			return nil, false, errors.Mark(errors.Wrap(err, "create booking"), domain.ErrConflict)
		}
		return nil, false, persistenceErr(err, "create booking")
	}
	return booking, created, nil
}

func (s *Store) FindBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error) {
	var row bookingRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Order(activeFirst).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, persistenceErr(err, "find booking")
	}
	return row.toDomain(), nil
}

func (s *Store) CancelBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error) {
	var booking *domain.Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row bookingRow
		if err := tx.Where("user_id = ? AND post_id = ?", userID, postID).Order(activeFirst).Take(&row).Error; err != nil {
			return err
		}
		if row.Status != string(domain.StatusCancelled) {
			row.Status = string(domain.StatusCancelled)
			row.UpdatedAt = s.now()
			if err := tx.Model(&row).Select("status", "updated_at").Updates(&row).Error; err != nil {
				return err
			}
		}
		booking = row.toDomain()
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, persistenceErr(err, "cancel booking")
	}
	return booking, nil
}

func (s *Store) DeleteBookingsForUser(ctx context.Context, userID int64) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&bookingRow{})
	if res.Error != nil {
		return 0, persistenceErr(res.Error, "delete user bookings")
	}
	return res.RowsAffected, nil
}

func (s *Store) ListBookingsByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	return s.list(ctx, "user_id = ?", userID)
}

func (s *Store) ListBookingsByPost(ctx context.Context, postID int64) ([]domain.Booking, error) {
	return s.list(ctx, "post_id = ?", postID)
}

func (s *Store) list(ctx context.Context, where string, arg int64) ([]domain.Booking, error) {
	var rows []bookingRow
	if err := s.db.WithContext(ctx).Where(where, arg).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, persistenceErr(err, "list bookings")
	}
	out := make([]domain.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toDomain())
	}
	return out, nil
}
