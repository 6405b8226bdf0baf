package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicrooms/internal/api"
	"clinicrooms/internal/config"
	"clinicrooms/internal/database"
	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/logging"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/mongostore"
	"clinicrooms/internal/notify"
	"clinicrooms/internal/payments"
	"clinicrooms/internal/repository"
	"clinicrooms/internal/service"
	"clinicrooms/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, sqliteDB, err := initStore(ctx, cfg, baseLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	rooms := service.NewRoomService(store, baseLogger)
	if err := syncRooms(ctx, rooms, &logger); err != nil {
		return err
	}

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	drafts := initDrafts(redisClient, baseLogger)

	provider := initProvider(cfg, baseLogger)
	bus := events.NewEventBus()

	reconciler := service.NewReconcileService(store, provider, bus, baseLogger)
	bookings := service.NewBookingService(store, drafts, provider, reconciler, bus, service.BookingOptions{
		MaxAdvanceDays: cfg.Booking.MaxAdvanceDays,
		DraftTTL:       cfg.Booking.DraftTTL,
		Currency:       cfg.Payments.Currency,
		DepositCents:   cfg.Payments.SecurityDepositCents,
	}, baseLogger)
	users := service.NewUserService(store, baseLogger)

	notifier := worker.NewNotifyWorker(store, store, notify.NewSender(cfg.Notifications, baseLogger), redisClient, worker.NotifyWorkerOptions{
		Retry: worker.RetryPolicy{
			MaxRetries:   cfg.Notifications.MaxRetries,
			InitialDelay: cfg.Notifications.RetryBaseDelay,
			MaxDelay:     cfg.Notifications.RetryMaxDelay,
		},
		PollInterval: cfg.Notifications.PollInterval,
		AdminEmail:   cfg.Notifications.AdminEmail,
	}, baseLogger)
	notifier.Subscribe(bus)
	go notifier.Start(ctx)

	sweeper := worker.NewReconcileSweeper(store, reconciler, cfg.Booking.SweepInterval, cfg.Booking.StaleAfter, cfg.Booking.SweepBatch, baseLogger)
	go sweeper.Start(ctx)

	if sqliteDB != nil {
		go database.NewBackupService(sqliteDB, cfg.Backup, baseLogger).Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	if !cfg.API.Auth.Enabled {
		logger.Warn().Msg("API key auth is disabled, admin endpoints are open")
	}

	httpServer := api.NewHTTPServer(cfg.API, cfg.Payments, api.Services{
		Bookings:  bookings,
		Reconcile: reconciler,
		Users:     users,
		Rooms:     rooms,
		Store:     store,
	}, baseLogger)

	return serve(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// initStore opens the configured store. The sqlite handle is returned
// separately for the backup service.
func initStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Store, *database.DB, error) {
	switch cfg.Database.Driver {
	case config.DriverMongo:
		m := cfg.Database.Mongo
		store, err := mongostore.Connect(ctx, m.URI, m.Database, m.ConnectTimeout, logger)
		if err != nil {
			logger.Error().Err(err).Str("database", m.Database).Msg("connect mongo")
			return nil, nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return store, nil, nil
	default:
		db, err := database.NewDB(cfg.Database.Path, logger)
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		return db, db, nil
	}
}

func syncRooms(ctx context.Context, rooms *service.RoomService, logger *zerolog.Logger) error {
	roomsPath := os.Getenv("ROOMS_PATH")
	if roomsPath == "" {
		roomsPath = "configs/rooms.yaml"
	}
	catalogue, err := config.LoadRooms(roomsPath)
	if err != nil {
		logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("load rooms")
		return err
	}
	return rooms.SyncCatalogue(ctx, catalogue)
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func initDrafts(client *redis.Client, logger *zerolog.Logger) domain.DraftRepository {
	memory := repository.NewMemoryDraftRepository()
	if client == nil {
		return memory
	}
	return repository.NewFailoverDraftRepository(repository.NewRedisDraftRepository(client), memory, logger)
}

func initProvider(cfg *config.Config, logger *zerolog.Logger) domain.PaymentProvider {
	if cfg.Payments.Provider == config.ProviderStripe {
		return payments.NewStripeClient(cfg.Payments.SecretKey, cfg.Payments.APIBaseURL, cfg.Payments.RequestTimeout, logger)
	}
	logger.Warn().Msg("Using the in-memory fake payment provider")
	return payments.NewFakeProvider()
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}
	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("db_driver", cfg.Database.Driver).Msg("API server started")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
