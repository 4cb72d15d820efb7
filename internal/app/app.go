// Package app assembles the chat server from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"pairchat/backend/internal/api/handler"
	"pairchat/backend/internal/auth"
	"pairchat/backend/internal/chathub"
	"pairchat/backend/internal/config"
	"pairchat/backend/internal/storage"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App owns every long-lived dependency of the server.
type App struct {
	Config  config.Config
	Log     *slog.Logger
	Hub     *chathub.Hub
	Handler *handler.Handler
	Router  *gin.Engine

	DB    *gorm.DB
	Redis *redis.Client

	closers []func() error
}

// New opens storage, connects redis when configured and wires the hub. The
// relay subscription lives as long as ctx.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	assembled := false
	defer func() {
		if !assembled {
			_ = a.Close()
		}
	}()

	var err error

	if cfg.DatabaseDSN != "" {
		if a.DB, err = storage.OpenPostgres(cfg.DatabaseDSN); err != nil {
			return nil, err
		}
		if err = storage.Migrate(a.DB); err != nil {
			return nil, err
		}
		if sqlDB, dbErr := a.DB.DB(); dbErr == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
	}

	if cfg.RedisAddr != "" {
		if a.Redis, err = storage.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Redis.Close)
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	resolver, err := a.openResolver()
	if err != nil {
		return nil, err
	}

	registry := chathub.NewRegistry()
	dispatcher := chathub.NewDispatcher(registry, log)
	var fanout chathub.Fanout = dispatcher
	if a.Redis != nil {
		relay := chathub.NewRedisRelay(a.Redis, cfg.RelayChannel, dispatcher, log)
		if err = relay.Start(ctx); err != nil {
			return nil, err
		}
		fanout = relay
	}

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
	handshake, err := chathub.NewHandshake(cfg.Handshake, validator)
	if err != nil {
		return nil, err
	}

	service := chathub.NewService(store, resolver, fanout, log)
	service.DefaultHistorySize = cfg.HistoryDefaultSize
	service.MaxHistorySize = cfg.HistoryMaxSize

	a.Hub = chathub.NewHub(registry, service, handshake, log, chathub.HubOptions{
		RateBurst:    cfg.RateBurst,
		RateInterval: cfg.RateInterval,
	})
	a.Handler = handler.NewHandler(a.Hub, validator, log, handler.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
	})

	a.Router = gin.Default()
	a.Handler.Register(a.Router)

	log.Info("Chat server assembled",
		"store", cfg.Store,
		"handshake", cfg.Handshake,
		"relay", a.Redis != nil,
		"resolver", fmt.Sprintf("%T", resolver),
	)
	assembled = true
	return a, nil
}

func (a *App) openStore() (storage.MessageStore, error) {
	switch a.Config.Store {
	case config.StorePostgres:
		if a.DB == nil {
			return nil, fmt.Errorf("%w: postgres store needs DATABASE_DSN", config.ErrInvalidConfig)
		}
		return storage.NewGormStore(a.DB), nil

	case config.StoreBadger:
		bdb, err := storage.OpenBadger(a.Config.BadgerPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bdb.Close)
		store, err := storage.NewBadgerStore(bdb, a.Log)
		if err != nil {
			return nil, err
		}
		// Closers run in reverse, so the sequence is released before the db closes.
		a.closers = append(a.closers, store.Close)
		return store, nil

	case config.StoreMemory:
		a.Log.Warn("Using in-memory message store; history is lost on restart")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownDriver, a.Config.Store)
	}
}

func (a *App) openResolver() (storage.PartnerResolver, error) {
	if a.DB != nil {
		var resolver storage.PartnerResolver = storage.NewSpaceResolver(a.DB)
		if a.Redis != nil {
			resolver = storage.NewCachedResolver(resolver, a.Redis, a.Config.PartnerCacheTTL, a.Log)
		}
		return resolver, nil
	}

	pairs, err := storage.ParseStaticPairs(a.Config.StaticPairs)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		a.Log.Warn("No DATABASE_DSN and no CHAT_STATIC_PAIRS; every sender is unpaired")
	}
	return storage.NewStaticResolver(pairs...), nil
}

// Run serves HTTP until ctx is cancelled, then closes live websockets and
// drains in-flight requests within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              a.Config.Addr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Listening", "addr", a.Config.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve %s: %w", a.Config.Addr, err)
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down", "connections", a.Hub.CloseAll())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Close releases stores and clients in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
