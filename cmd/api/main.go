package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-bookings/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-bookings/internal/adapters/redis"
	"github.com/robertarktes/event-bookings/internal/app"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/config"
	httphandler "github.com/robertarktes/event-bookings/internal/http"
	"github.com/robertarktes/event-bookings/internal/idempotency"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/robertarktes/event-bookings/internal/payment"
	"github.com/robertarktes/event-bookings/internal/rateLimit"
	"github.com/robertarktes/event-bookings/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint, "bookings-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	ctx := context.Background()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open booking store: %v", err)
	}
	defer closeStore()

	mongoDB, closeMongo, err := app.OpenMongo(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer closeMongo()
	catalog := mongo.NewCatalogRepository(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	gateway := payment.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpaySecret, cfg.PaymentCurrency, cfg.GatewayTimeout)
	workflow := booking.NewWorkflow(store, catalog, gateway, logger)

	handlers := httphandler.NewHandlers(workflow, map[string]httphandler.Pinger{
		"store": store,
		"mongo": catalog,
		"redis": redisCache,
	}, logger)

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Sessions:           session.NewManager(cfg.SessionSecret, 24*time.Hour),
		RateLimiter:        rl,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Idempotency:        idemp,
		AdminToken:         cfg.AdminToken,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	logger.Info("Server exiting")
}
