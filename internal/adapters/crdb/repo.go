package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	maxTxAttempts = 3
)

// Schema is safe to apply repeatedly. The partial unique index is what
// keeps a (user, post) pair to a single active booking.
const Schema = `
CREATE TABLE IF NOT EXISTS bookings (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	post_id BIGINT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Book Now' CHECK (status IN ('Book Now', 'Booked', 'Cancelled')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS bookings_active_pair_uq ON bookings (user_id, post_id) WHERE status <> 'Cancelled';
CREATE INDEX IF NOT EXISTS bookings_post_idx ON bookings (post_id);
CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	attempts INT NOT NULL DEFAULT 0,
	next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT,
	dedupe_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_dedupe_uq ON outbox (event_type, dedupe_key);
CREATE INDEX IF NOT EXISTS outbox_due_idx ON outbox (status, next_attempt_at);
`

const bookingColumns = `id, user_id, post_id, status, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

// retryTx reruns fn while CockroachDB asks the client to retry.
func (r *Repository) retryTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var err error
	for i := 0; i < maxTxAttempts; i++ {
		err = r.WithTx(ctx, fn)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return err
		}
	}
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(err, domain.ErrConflict)
		}
	}
	return err
}

func persistenceErr(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrPersistence)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.PostID, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

// CreateBooking inserts a Booked row and the messages built by outbox in
// one transaction. When the pair already holds an active booking nothing
// is written and the existing row is returned with created=false.
func (r *Repository) CreateBooking(ctx context.Context, userID, postID int64, outbox domain.OutboxFunc) (*domain.Booking, bool, error) {
	var (
		booking *domain.Booking
		created bool
	)
	err := r.retryTx(ctx, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `
			INSERT INTO bookings (user_id, post_id, status)
			VALUES ($1, $2, 'Booked')
			ON CONFLICT (user_id, post_id) WHERE status <> 'Cancelled' DO NOTHING
			RETURNING `+bookingColumns, userID, postID))
		if errors.Is(err, pgx.ErrNoRows) {
			existing, err := scanBooking(tx.QueryRow(ctx, `
				SELECT `+bookingColumns+` FROM bookings
				WHERE user_id = $1 AND post_id = $2 AND status <> 'Cancelled'
			`, userID, postID))
			if err != nil {
				return err
			}
			booking, created = existing, false
			return nil
		}
		if err != nil {
			return err
		}

		if outbox != nil {
			msgs, err := outbox(b)
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				if err := r.InsertOutbox(ctx, tx, msg); err != nil {
					return err
				}
			}
		}
		booking, created = b, true
		return nil
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, false, errors.Wrap(err, "create booking")
	}
	if err != nil {
		return nil, false, persistenceErr(err, "create booking")
	}
	return booking, created, nil
}

// FindBooking prefers the active row and falls back to the latest
// cancelled one.
func (r *Repository) FindBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = $1 AND post_id = $2
		ORDER BY CASE WHEN status = 'Cancelled' THEN 1 ELSE 0 END, created_at DESC, id DESC
		LIMIT 1
	`, userID, postID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, persistenceErr(err, "find booking")
	}
	return b, nil
}

// CancelBooking flips the active booking to Cancelled. Cancelling an
// already cancelled booking returns it unchanged.
func (r *Repository) CancelBooking(ctx context.Context, userID, postID int64) (*domain.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		UPDATE bookings SET status = 'Cancelled', updated_at = now()
		WHERE user_id = $1 AND post_id = $2 AND status <> 'Cancelled'
		RETURNING `+bookingColumns, userID, postID))
	if errors.Is(err, pgx.ErrNoRows) {
		return r.FindBooking(ctx, userID, postID)
	}
	if err != nil {
		return nil, persistenceErr(err, "cancel booking")
	}
	return b, nil
}

func (r *Repository) DeleteBookingsForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM bookings WHERE user_id = $1`, userID)
	if err != nil {
		return 0, persistenceErr(err, "delete user bookings")
	}
	return result.RowsAffected(), nil
}

func (r *Repository) ListBookingsByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	return r.listBookings(ctx, `WHERE user_id = $1`, userID)
}

func (r *Repository) ListBookingsByPost(ctx context.Context, postID int64) ([]domain.Booking, error) {
	return r.listBookings(ctx, `WHERE post_id = $1`, postID)
}

func (r *Repository) listBookings(ctx context.Context, where string, arg int64) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings `+where+` ORDER BY created_at DESC, id DESC`, arg)
	if err != nil {
		return nil, persistenceErr(err, "list bookings")
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, persistenceErr(err, "scan booking")
		}
		bookings = append(bookings, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceErr(err, "list bookings")
	}
	return bookings, nil
}
