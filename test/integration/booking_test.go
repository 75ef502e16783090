package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-bookings/internal/adapters/redis"
	"github.com/robertarktes/event-bookings/internal/app"
	"github.com/robertarktes/event-bookings/internal/audit"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/domain"
	httphandler "github.com/robertarktes/event-bookings/internal/http"
	"github.com/robertarktes/event-bookings/internal/idempotency"
	"github.com/robertarktes/event-bookings/internal/notify"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/outbox"
	"github.com/robertarktes/event-bookings/internal/payment"
	"github.com/robertarktes/event-bookings/internal/rateLimit"
	"github.com/robertarktes/event-bookings/internal/session"
	"github.com/robertarktes/event-bookings/internal/worker"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const gatewaySecret = "rzp_integration_secret"

type stubOrders struct{}

func (stubOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	return map[string]interface{}{
		"id":       "order_it_1",
		"amount":   float64(data["amount"].(int64)),
		"currency": data["currency"],
		"receipt":  data["receipt"],
	}, nil
}

type chanMailer chan notify.Message

func (c chanMailer) Send(_ context.Context, msg notify.Message) error {
	c <- msg
	return nil
}

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, port)
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

func TestIntegration_CheckoutConfirmNotify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	logger := observability.NewNopLogger()

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	}, "5672")

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	store := crdb.NewRepository(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("events_it")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	activities := mongoadapter.NewActivityRepository(mongoDB, logger)
	if err := activities.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}
	if err := catalog.CreateUser(ctx, mongoadapter.UserDoc{ID: 7, FirstName: "Asha", LastName: "Rao", Email: "asha@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := catalog.CreatePost(ctx, mongoadapter.PostDoc{ID: 42, Title: "Jazz Night", Description: "Live jazz", Price: 500, Venue: "Blue Room"}); err != nil {
		t.Fatal(err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	conn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Queues must exist before the outbox publishes.
	mails := make(chanMailer, 4)
	handlers := map[string]worker.Handler{
		domain.QueueNotifications: notify.NewDispatcher(mails, logger),
		domain.QueueActivities:    audit.NewRecorder(activities, logger),
	}
	for _, qc := range app.BookingQueues() {
		consumer, err := rabbit.NewConsumer(conn, qc)
		if err != nil {
			t.Fatal(err)
		}
		defer consumer.Close()
		deliveries, err := consumer.Consume(ctx)
		if err != nil {
			t.Fatal(err)
		}
		go worker.New(qc.Queue, handlers[qc.Queue], logger).Run(ctx, deliveries)
	}

	gateway := payment.NewGateway(stubOrders{}, "rzp_it_key", gatewaySecret, "INR", 5*time.Second)
	workflow := booking.NewWorkflow(store, catalog, gateway, logger)
	sessions := session.NewManager("integration-session", time.Hour)
	router := httphandler.SetupRouter(
		httphandler.NewHandlers(workflow, map[string]httphandler.Pinger{"store": store, "mongo": catalog, "redis": redisCache}, logger),
		logger,
		httphandler.RouterOptions{
			Sessions:           sessions,
			RateLimiter:        rateLimit.NewRateLimiter(redisCache),
			RateLimitPerMinute: 100,
			Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour),
			AdminToken:         "it-admin",
		},
	)
	srv := httptest.NewServer(router)
	defer srv.Close()

	token, err := sessions.Issue(7)
	if err != nil {
		t.Fatal(err)
	}
	call := func(method, path, body string, headers map[string]string) (*http.Response, map[string]interface{}) {
		t.Helper()
		req, _ := http.NewRequestWithContext(ctx, method, srv.URL+path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
		return resp, out
	}

	ready, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	ready.Body.Close()
	if ready.StatusCode != http.StatusOK {
		t.Fatalf("expected ready, got %d", ready.StatusCode)
	}

	resp, page := call(http.MethodGet, "/booking/42", "", nil)
	if resp.StatusCode != http.StatusOK || page["order_id"] != "order_it_1" || page["amount"] != float64(50000) {
		t.Fatalf("unexpected checkout page %d %v", resp.StatusCode, page)
	}

	proof, _ := json.Marshal(map[string]interface{}{
		"razorpay_order_id":   "order_it_1",
		"razorpay_payment_id": "pay_it_1",
		"razorpay_signature":  payment.Sign("order_it_1", "pay_it_1", gatewaySecret),
		"postId":              "42",
	})
	hdr := map[string]string{httphandler.IdempotencyHeader: "verify-it-1"}
	resp, out := call(http.MethodPost, "/booking/payment/verify", string(proof), hdr)
	if resp.StatusCode != http.StatusOK || out["message"] != booking.MsgBookingCreated {
		t.Fatalf("expected booking created, got %d %v", resp.StatusCode, out)
	}
	resp, out = call(http.MethodPost, "/booking/payment/verify", string(proof), hdr)
	if resp.Header.Get(httphandler.ReplayHeader) != "true" || out["message"] != booking.MsgBookingCreated {
		t.Errorf("expected idempotent replay, got %v %v", resp.Header, out)
	}

	if _, out := call(http.MethodGet, "/booking/42/status", "", nil); out["booking_status"] != string(domain.StatusBooked) {
		t.Errorf("expected Booked, got %v", out)
	}

	broker, err := rabbit.NewPublisher(conn, domain.EventsExchange)
	if err != nil {
		t.Fatal(err)
	}
	defer broker.Close()
	relay := outbox.NewPublisher(store, broker, outbox.Config{BatchSize: 10}, logger)
	n, err := relay.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one outbox message published, got %d (%v)", n, err)
	}

	select {
	case msg := <-mails:
		if msg.To != "asha@example.com" || msg.Subject != "Booking Confirmed: Jazz Night" {
			t.Errorf("unexpected mail %+v", msg)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for the confirmation mail")
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		recs, err := activities.ListByUser(ctx, 7, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) == 1 {
			if !strings.Contains(recs[0].Action, "Jazz Night") {
				t.Errorf("unexpected activity action %q", recs[0].Action)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one activity record, got %d", len(recs))
		}
		time.Sleep(200 * time.Millisecond)
	}

	if n, err := relay.RunOnce(ctx); err != nil || n != 0 {
		t.Errorf("expected an empty outbox, got %d (%v)", n, err)
	}
}
