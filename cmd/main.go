package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/config"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/fleet"
	"github.com/ukydev/fleet-maintenance/internal/handlers"
	"github.com/ukydev/fleet-maintenance/internal/lifecycle"
	"github.com/ukydev/fleet-maintenance/internal/logging"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"github.com/ukydev/fleet-maintenance/internal/notify"
	"github.com/ukydev/fleet-maintenance/internal/report"
)

// newStores opens the configured backend. The returned func releases it.
func newStores(ctx context.Context, cfg *config.Config) (db.Stores, func(context.Context) error, error) {
	if cfg.Store == config.StoreMemory {
		return db.NewMemoryStores(), func(context.Context) error { return nil }, nil
	}

	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		return db.Stores{}, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := db.EnsureIndexes(ctx, client, cfg.MongoDB); err != nil {
		client.Disconnect(ctx)
		return db.Stores{}, nil, err
	}
	return db.NewMongoStores(client, cfg.MongoDB), client.Disconnect, nil
}

// newSinks returns the notification sinks that are configured. A sink that
// fails to start is logged and skipped.
func newSinks(ctx context.Context, cfg *config.Config, logger *log.Logger) []notify.Sink {
	var sinks []notify.Sink
	if cfg.FirebaseCredentials != "" {
		push, err := notify.NewFirebaseSink(ctx, cfg.FirebaseCredentials)
		if err != nil {
			logger.WithError(err).Error("Push notifications disabled")
		} else {
			sinks = append(sinks, push)
		}
	}
	if cfg.MQTTBroker != "" {
		client, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			logger.WithError(err).WithField("broker", cfg.MQTTBroker).Error("MQTT publishing disabled")
		} else {
			sinks = append(sinks, notify.NewBusSink(client, cfg.MQTTTopic))
		}
	}
	return sinks
}

// ensureAdmin creates the bootstrap admin unless a user with that name exists.
func ensureAdmin(ctx context.Context, users db.UserCollection, authService *auth.Service, username, password string) error {
	if username == "" {
		return nil
	}
	_, err := users.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{
		Username:     username,
		Email:        username + "@localhost",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		FullName:     "Administrator",
		IsActive:     true,
	}
	if err := users.InsertUser(ctx, admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.WithField("username", username).Info("Created bootstrap admin")
	return nil
}

// buildServer wires the engine, read models and notification fan-out behind
// the HTTP router. The returned func drains pending notifications.
func buildServer(ctx context.Context, cfg *config.Config, stores db.Stores, logger *log.Logger) (*http.Server, func(context.Context) error, error) {
	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureAdmin(ctx, stores.Users, authService, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return nil, nil, err
	}

	dispatcher := notify.NewDispatcher(stores.Users, newSinks(ctx, cfg, logger),
		notify.WithLogger(logger.WithField("component", "notify")),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithDeliveryTimeout(cfg.NotifyTimeout),
	)
	engine := lifecycle.NewEngine(stores.Requests, stores.Vehicles,
		lifecycle.WithPublisher(dispatcher),
		lifecycle.WithLogger(logger.WithField("component", "lifecycle")),
	)

	router := handlers.NewRouter(handlers.Deps{
		Auth:                   authService,
		Stores:                 stores,
		Engine:                 engine,
		Projector:              fleet.NewProjector(stores.Vehicles, stores.Requests, stores.Sites),
		Reports:                report.NewAggregator(stores.Requests, stores.Vehicles),
		Logger:                 logger.WithField("component", "http"),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow(),
		MetricsPath:       cfg.MetricsPath,
	})

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, dispatcher.Close, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := newStores(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	logger.WithField("store", cfg.Store).Info("Store ready")

	server, drainNotifications, err := buildServer(ctx, cfg, stores, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start")
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP shutdown")
	}
	if err := drainNotifications(shutdownCtx); err != nil {
		logger.WithError(err).Error("Notification shutdown")
	}
	if err := closeStores(shutdownCtx); err != nil {
		logger.WithError(err).Error("Store shutdown")
	}
}
