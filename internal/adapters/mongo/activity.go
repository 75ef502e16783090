package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ActivityRepository appends audit entries to the activities collection.
type ActivityRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewActivityRepository(db *mongo.Database, logger observability.Logger) *ActivityRepository {
	return &ActivityRepository{
		coll:   db.Collection("activities"),
		logger: logger,
	}
}

type ActivityDoc struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    int64     `bson:"user_id"`
	CreatedAt time.Time `bson:"created_at"`
}

func (a *ActivityRepository) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return errors.Wrap(err, "create activities index")
}

// Record inserts rec. A redelivered record with the same id is a no-op.
func (a *ActivityRepository) Record(ctx context.Context, rec domain.ActivityRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := a.coll.InsertOne(ctx, ActivityDoc{
		ID:        rec.ID.String(),
		Action:    rec.Action,
		UserID:    rec.UserID,
		CreatedAt: rec.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		a.logger.WithError(err).WithField("user_id", rec.UserID).Error("failed to insert activity")
		return errors.Wrap(err, "insert activity")
	}
	return nil
}

func (a *ActivityRepository) ListByUser(ctx context.Context, userID int64, limit int64) ([]domain.ActivityRecord, error) {
	cur, err := a.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "find activities")
	}
	defer cur.Close(ctx)

	var out []domain.ActivityRecord
	for cur.Next(ctx) {
		var doc ActivityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode activity")
		}
		id, _ := uuid.Parse(doc.ID)
		out = append(out, domain.ActivityRecord{ID: id, Action: doc.Action, UserID: doc.UserID, CreatedAt: doc.CreatedAt})
	}
	return out, errors.Wrap(cur.Err(), "iterate activities")
}
