// Package gormstore is the single-node booking store on SQLite through
// GORM. It keeps the same contract as the CockroachDB repository: one
// active booking per (user, post) enforced by a partial unique index,
// and the outbox row written in the booking's transaction.
package gormstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type bookingRow struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"not null;index"`
	PostID    int64  `gorm:"not null;index"`
	Status    string `gorm:"not null;default:'Book Now'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (bookingRow) TableName() string { return "bookings" }

func (r bookingRow) toDomain() *domain.Booking {
	return &domain.Booking{
		ID:        r.ID,
		UserID:    r.UserID,
		PostID:    r.PostID,
		Status:    domain.BookingStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

type outboxRow struct {
	ID            uuid.UUID `gorm:"type:text;primaryKey"`
	AggregateType string    `gorm:"not null"`
	AggregateID   string    `gorm:"not null"`
	EventType     string    `gorm:"not null;uniqueIndex:outbox_dedupe_uq"`
	PayloadJSON   []byte    `gorm:"not null"`
	Status        string    `gorm:"not null;default:'NEW';index:outbox_due_idx"`
	Attempts      int       `gorm:"not null;default:0"`
	NextAttemptAt time.Time `gorm:"not null;index:outbox_due_idx"`
	LastError     *string
	DedupeKey     string `gorm:"not null;uniqueIndex:outbox_dedupe_uq"`
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func (outboxRow) TableName() string { return "outbox" }

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, errors.Wrapf(err, "sqlite directory %s", dir)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// SQLite has a single writer; one connection avoids SQLITE_BUSY on
	// concurrent booking transactions.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the tables and the partial unique index AutoMigrate
// cannot express.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&bookingRow{}, &outboxRow{}); err != nil {
		return errors.Wrap(err, "automigrate")
	}
	err := s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS bookings_active_pair_uq ON bookings (user_id, post_id) WHERE status <> 'Cancelled'`).Error
	return errors.Wrap(err, "create active booking index")
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func persistenceErr(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), domain.ErrPersistence)
}
