package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping mongo container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mongoContainer.Terminate(ctx) })

	host, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+host+":"+port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("events_test")
}

func TestCatalogRepository(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()
	catalog := mongoadapter.NewCatalogRepository(db, observability.NewNopLogger())

	if err := catalog.CreateUser(ctx, mongoadapter.UserDoc{ID: 1, FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := catalog.CreatePost(ctx, mongoadapter.PostDoc{ID: 10, Title: "Jazz Night", Price: 500, Date: time.Now()}); err != nil {
		t.Fatal(err)
	}

	user, err := catalog.GetUser(ctx, 1)
	if err != nil || user.Email != "asha@example.com" || user.FullName() != "Asha Rao" {
		t.Errorf("unexpected user %+v (%v)", user, err)
	}
	post, err := catalog.GetPost(ctx, 10)
	if err != nil || post.Title != "Jazz Night" || post.Price != 500 {
		t.Errorf("unexpected post %+v (%v)", post, err)
	}

	if _, err := catalog.GetUser(ctx, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := catalog.GetPost(ctx, 11); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestActivityRepository(t *testing.T) {
	db := setupDatabase(t)
	ctx := context.Background()
	activities := mongoadapter.NewActivityRepository(db, observability.NewNopLogger())
	if err := activities.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	rec := domain.ActivityRecord{ID: uuid.New(), Action: "Confirmed booking", UserID: 1, CreatedAt: time.Now().UTC()}
	if err := activities.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := activities.Record(ctx, rec); err != nil {
		t.Fatalf("redelivered record must be a no-op, got %v", err)
	}

	list, err := activities.ListByUser(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != rec.ID || list[0].Action != rec.Action {
		t.Errorf("unexpected activities %+v", list)
	}
}
