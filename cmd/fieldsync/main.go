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
	"github.com/ukydev/fleet-fieldsync/internal/auth"
	"github.com/ukydev/fleet-fieldsync/internal/config"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/dedup"
	"github.com/ukydev/fleet-fieldsync/internal/fieldsync"
	"github.com/ukydev/fleet-fieldsync/internal/handlers"
	"github.com/ukydev/fleet-fieldsync/internal/jobs"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"github.com/ukydev/fleet-fieldsync/internal/notify"
	"github.com/ukydev/fleet-fieldsync/internal/queue"
	"github.com/ukydev/fleet-fieldsync/internal/sheets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Field sync service stopped with error")
	}
	log.Info("Field sync service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	q, err := queue.Open(cfg.QueuePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.WithError(err).Warn("Failed to close queue")
		}
	}()

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return err
	}
	if err := seedAdmin(ctx, authService, store.Users, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return err
	}

	publisher, closePublisher := newPublisher(cfg)
	defer closePublisher()

	detector := dedup.NewDetector(store.Fuel, cfg.DuplicateWindowMinutes)
	engine := fieldsync.NewEngine(q, store, newBridge(cfg), publisher, fieldsync.Config{
		FuelSheetName:        cfg.FuelSheetName,
		RequestTimeout:       cfg.RequestTimeout,
		AttemptWarnThreshold: cfg.AttemptWarnThreshold,
		Duplicates:           detector,
	})
	cleaner := dedup.NewCleaner(store.Fuel,
		dedup.WithBatchSize(cfg.CleanupBatchSize),
		dedup.WithLookbackDays(cfg.CleanupLookbackDays),
		dedup.WithWindow(cfg.DuplicateWindowMinutes),
	)

	scheduler := jobs.NewScheduler(jobs.Config{
		DrainSchedule:   cfg.DrainSchedule,
		MirrorSchedule:  cfg.MirrorSchedule,
		CleanupSchedule: cfg.CleanupSchedule,
		DeviceUserID:    cfg.DeviceUserID,
		MirrorBatch:     cfg.MirrorBatchSize,
	}, engine, engine, cleaner, publisher)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.Dependencies{
			Auth:        authService,
			Users:       store.Users,
			Queue:       q,
			Detector:    detector,
			Cleaner:     cleaner,
			Engine:      engine,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore returns the remote store selected by REMOTE_STORE and its closer.
func openStore(ctx context.Context, cfg *config.Config) (*db.Store, func(), error) {
	if cfg.RemoteStore == config.StoreMemory {
		log.Warn("Using in-memory remote store; records are lost on restart")
		return db.NewMemoryStore().Store(), func() {}, nil
	}

	client, err := db.ConnectMongo(ctx, cfg.MongoURI, cfg.RequestTimeout)
	if err != nil {
		return nil, nil, err
	}
	database := client.Database(cfg.MongoDB)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")

	closer := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(disconnectCtx); err != nil {
			log.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}
	return db.NewMongoStore(database), closer, nil
}

// newBridge picks the spreadsheet mirror; nil disables mirroring.
func newBridge(cfg *config.Config) sheets.Bridge {
	switch {
	case cfg.SheetsBridgeURL != "":
		log.Info("Mirroring fuel records through the remote sheets bridge")
		return sheets.NewHTTPBridge(cfg.SheetsBridgeURL, cfg.SheetsBridgeToken, cfg.RequestTimeout)
	case cfg.SheetsWorkbookPath != "":
		log.WithField("path", cfg.SheetsWorkbookPath).Info("Mirroring fuel records to a local workbook")
		return sheets.NewWorkbookBridge(cfg.SheetsWorkbookPath)
	default:
		log.Warn("No spreadsheet mirror configured")
		return nil
	}
}

// newPublisher connects to MQTT when a broker is set. Connection failures fall
// back to a no-op publisher so sync keeps running.
func newPublisher(cfg *config.Config) (notify.Publisher, func()) {
	if cfg.MQTTBroker == "" {
		return notify.Nop{}, func() {}
	}
	client, err := notify.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.RequestTimeout)
	if err != nil {
		log.WithError(err).WithField("broker", cfg.MQTTBroker).Warn("MQTT unavailable, sync events will not be published")
		return notify.Nop{}, func() {}
	}
	return notify.NewMQTTPublisher(client, cfg.MQTTTopic, cfg.RequestTimeout), func() { client.Disconnect(250) }
}

// seedAdmin creates the bootstrap admin when configured and missing.
func seedAdmin(ctx context.Context, authService *auth.Service, users db.UserCollection, username, password string) error {
	if username == "" {
		return nil
	}
	_, err := users.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !db.IsNotFound(err) {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	hash, err := authService.HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.InsertUser(ctx, models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		FirstName:    "Admin",
	}); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	log.WithField("username", username).Info("Admin user created")
	return nil
}
