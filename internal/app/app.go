// Package app opens the backing services shared by the binaries.
package app

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/adapters/gormstore"
	"github.com/robertarktes/event-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/outbox"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the booking store together with its outbox.
type Store interface {
	booking.Store
	outbox.Store
	Ping(ctx context.Context) error
}

var (
	_ Store = (*crdb.Repository)(nil)
	_ Store = (*gormstore.Store)(nil)
)

// OpenStore connects to the configured booking database and applies the
// schema. The returned func releases it.
func OpenStore(ctx context.Context, cfg *config.Config, logger observability.Logger) (Store, func(), error) {
	switch cfg.DBDriver {
	case config.DriverCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to crdb")
		}
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "migrate crdb")
		}
		logger.WithField("driver", cfg.DBDriver).Info("booking store ready")
		return repo, pool.Close, nil
	case config.DriverSQLite:
		db, err := gormstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store := gormstore.New(db)
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, nil, errors.Wrap(err, "migrate sqlite")
		}
		logger.WithField("driver", cfg.DBDriver).WithField("path", cfg.SQLitePath).Info("booking store ready")
		return store, func() {
			if err := store.Close(); err != nil {
				logger.WithError(err).Warn("close sqlite")
			}
		}, nil
	default:
		return nil, nil, errors.Newf("unknown db driver %q", cfg.DBDriver)
	}
}

// OpenMongo connects to the catalog database.
func OpenMongo(ctx context.Context, cfg *config.Config) (*mongo.Database, func(), error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongo")
	}
	return client.Database(cfg.MongoDB), func() { _ = client.Disconnect(context.Background()) }, nil
}

// BookingQueues is the consumer topology for booking events: one queue
// for confirmation mail and one for the activity feed.
func BookingQueues() []rabbit.QueueConfig {
	queue := func(name string) rabbit.QueueConfig {
		return rabbit.QueueConfig{
			Exchange: domain.EventsExchange,
			Queue:    name,
			Bindings: []string{domain.RKBookingConfirmed},
			DLX:      domain.DeadLetterExchange,
		}
	}
	return []rabbit.QueueConfig{queue(domain.QueueNotifications), queue(domain.QueueActivities)}
}
