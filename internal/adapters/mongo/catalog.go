package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads users and event posts. Both collections are
// owned by the CMS; bookings only ever read them.
type CatalogRepository struct {
	users  *mongo.Collection
	posts  *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		users:  db.Collection("users"),
		posts:  db.Collection("posts"),
		logger: logger,
	}
}

type UserDoc struct {
	ID        int64     `bson:"_id"`
	FirstName string    `bson:"first_name"`
	LastName  string    `bson:"last_name"`
	Email     string    `bson:"email"`
	CreatedAt time.Time `bson:"created_at"`
}

type PostDoc struct {
	ID          int64     `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Price       float64   `bson:"price"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var doc UserDoc
	if err := c.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, c.findErr(err, "user", id)
	}
	return &domain.User{ID: doc.ID, FirstName: doc.FirstName, LastName: doc.LastName, Email: doc.Email}, nil
}

func (c *CatalogRepository) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	var doc PostDoc
	if err := c.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, c.findErr(err, "post", id)
	}
	return &domain.Post{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Price:       doc.Price,
		Venue:       doc.Venue,
		Date:        doc.Date,
	}, nil
}

func (c *CatalogRepository) CreateUser(ctx context.Context, user UserDoc) error {
	user.CreatedAt = time.Now()
	if _, err := c.users.InsertOne(ctx, user); err != nil {
		c.logger.WithError(err).Error("failed to create user")
		return errors.Wrapf(err, "insert user %d", user.ID)
	}
	return nil
}

func (c *CatalogRepository) CreatePost(ctx context.Context, post PostDoc) error {
	post.CreatedAt = time.Now()
	post.UpdatedAt = post.CreatedAt
	if _, err := c.posts.InsertOne(ctx, post); err != nil {
		c.logger.WithError(err).Error("failed to create post")
		return errors.Wrapf(err, "insert post %d", post.ID)
	}
	return nil
}

func (c *CatalogRepository) Ping(ctx context.Context) error {
	return c.users.Database().Client().Ping(ctx, nil)
}

func (c *CatalogRepository) findErr(err error, kind string, id int64) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return errors.Mark(errors.Newf("%s %d not found", kind, id), domain.ErrNotFound)
	}
	c.logger.WithError(err).WithField(kind+"_id", id).Error("catalog lookup failed")
	return errors.Wrapf(err, "find %s %d", kind, id)
}
