package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "batteryswap/backend/libs/db"
	libredis "batteryswap/backend/libs/redis"
	"batteryswap/backend/services/reservations-service/internal/config"
	httpserver "batteryswap/backend/services/reservations-service/internal/http"
	"batteryswap/backend/services/reservations-service/internal/http/handlers"
	"batteryswap/backend/services/reservations-service/internal/http/middleware"
	"batteryswap/backend/services/reservations-service/internal/metrics"
	redisstore "batteryswap/backend/services/reservations-service/internal/redis"
	"batteryswap/backend/services/reservations-service/internal/repository"
	"batteryswap/backend/services/reservations-service/internal/service"
	"batteryswap/backend/services/reservations-service/internal/ws"
)

// App wires reservations-service dependencies.
type App struct {
	server      *httpserver.Server
	service     *service.ReservationService
	hub         *ws.Hub
	subscriber  *redisstore.EventSubscriber
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	store, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(cfg.WebSocket.PingInterval, logger)
	a.hub = hub

	var (
		locker   service.Locker = service.NewKeyedMutex()
		notifier service.Notifier
	)
	if cfg.Redis.Enabled {
		redisClient, err := libredis.NewRedisClient(libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = redisClient

		// The local mutex keeps same-instance contenders off redis.
		locker = service.ChainLocker{locker, redisstore.NewLocker(redisClient, cfg.Redis.LockTTL, logger)}
		// Every instance, this one included, feeds its hub from the pub/sub channel.
		notifier = redisstore.NewEventPublisher(redisClient)
		a.subscriber = redisstore.NewEventSubscriber(redisClient, logger)
	} else {
		notifier = hub
	}

	a.service = service.NewReservationService(store, locker, notifier, cfg.FeePolicy(), cfg.Policy(), logger)

	wsServer := ws.NewServer(hub, cfg.WebSocket.WriteTimeout, logger)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Reservations:  handlers.NewReservationHandlers(a.service, logger),
		StationEvents: wsServer.HandleStationEvents,
		Metrics:       metrics.Handler(),
		Health:        handlers.NewHealthHandler(),
	}, middleware.AuthMiddleware(cfg.JWT.Secret), logger)

	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)
	return a, nil
}

func (a *App) openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		store := repository.NewMemoryStore()
		if cfg.Database.SeedFile != "" {
			if err := store.LoadSeedFile(cfg.Database.SeedFile); err != nil {
				return nil, err
			}
			a.logger.Info("loaded seed data", zap.String("path", cfg.Database.SeedFile))
		}
		a.logger.Warn("using in-memory store, data is lost on restart")
		return store, nil
	default:
		sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = sqlDB
		return repository.NewPostgresStore(sqlDB), nil
	}
}

// Run starts background loops and the HTTP server; it returns when ctx is done.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.hub.Start(ctx)
	}()

	if a.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.subscriber.Run(ctx, func(stationID string, payload []byte) {
				a.hub.Broadcast(stationID, payload)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("reservation event subscriber stopped", zap.Error(err))
			}
		}()
	}

	err := a.server.Run(ctx)
	cancel()
	wg.Wait()
	a.service.Wait()
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
