// Package app wires the storage backends, the backend client and the
// services into one process.
package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/backend"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/cache"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/carrier"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/config"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/gate"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/reconciler"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/repository"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/service"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/rest"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/transport/ws"
	"github.com/masterdesignstate/mmfrontend-sub002/internal/wizard"
)

const pingTimeout = 5 * time.Second

type App struct {
	Config     *config.Config
	Backends   storage.Backends
	Backend    *backend.Client
	Reconciler *reconciler.Reconciler
	Gate       *gate.Gate
	Hub        *ws.Hub

	AuthService       *service.AuthService
	OnboardingService *service.OnboardingService
	ProfileService    *service.ProfileService
	MatchService      *service.MatchService

	logger  *zap.Logger
	closers []func(context.Context) error
}

// New builds the process graph. With the durable driver it connects to
// MongoDB and Redis and fails when either is unreachable.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	backends, err := a.openStorage(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Backends = backends

	a.Backend, err = backend.NewClient(backend.Options{
		BaseURL:    cfg.Backend.BaseURL,
		Token:      cfg.Backend.Token,
		Timeout:    cfg.Backend.Timeout,
		MaxRetries: cfg.Backend.MaxRetries,
	}, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Reconciler = reconciler.New(a.Backend, cfg.Backend.PageSize, cfg.Reconciler.MaxPages, logger)
	a.Hub = ws.NewHub(logger)
	a.Gate = gate.New(a.Backend, a.Hub, gate.Options{Timeout: cfg.Backend.Timeout}, logger)

	a.OnboardingService = service.NewOnboardingService(wizard.DefaultCatalog(), a.Backend, a.Reconciler, a.Gate, carrier.Options{
		MaxInlineQuestions: cfg.Carrier.MaxInlineQuestions,
		MaxInlineBytes:     cfg.Carrier.MaxInlineBytes,
		SlotTTL:            cfg.Carrier.SlotTTL,
	}, logger)
	a.OnboardingService.SetBroadcaster(a.Hub)
	a.ProfileService = service.NewProfileService(a.OnboardingService, a.Reconciler, logger)
	a.MatchService = service.NewMatchService(logger)
	a.AuthService = service.NewAuthService(a.Backend, cfg.JWT.Secret, cfg.JWT.TTL, logger)

	return a, nil
}

func (a *App) openStorage(ctx context.Context) (storage.Backends, error) {
	if a.Config.Storage.Driver != config.DriverDurable {
		a.logger.Info("using in-memory client storage")
		b := storage.NewMemoryBackends()
		b.SessionTTL = a.Config.Storage.SessionTTL
		return b, nil
	}

	db, err := a.connectMongo(ctx)
	if err != nil {
		return storage.Backends{}, err
	}
	local := repository.NewLocalRepo(db)
	if err := local.EnsureIndexes(ctx); err != nil {
		return storage.Backends{}, errors.Wrap(err, "mongo: ensure indexes")
	}

	rdb, err := a.connectRedis(ctx)
	if err != nil {
		return storage.Backends{}, err
	}

	return storage.Backends{
		Local:      local,
		Session:    cache.NewSessionCache(rdb),
		SessionTTL: a.Config.Storage.SessionTTL,
	}, nil
}

func (a *App) connectMongo(ctx context.Context) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(a.Config.Mongo.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo: connect")
	}
	a.closers = append(a.closers, client.Disconnect)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo: ping")
	}
	a.logger.Info("connected to MongoDB", zap.String("database", a.Config.Mongo.Database))
	return client.Database(a.Config.Mongo.Database), nil
}

func (a *App) connectRedis(ctx context.Context) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     strings.TrimPrefix(a.Config.Redis.Addr, "redis://"),
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis: ping")
	}
	a.logger.Info("connected to Redis", zap.String("addr", a.Config.Redis.Addr))
	return rdb, nil
}

// Router returns the HTTP API.
func (a *App) Router() http.Handler {
	return rest.NewRouter(&rest.Container{
		Backends:          a.Backends,
		AuthService:       a.AuthService,
		OnboardingService: a.OnboardingService,
		ProfileService:    a.ProfileService,
		MatchService:      a.MatchService,
		Gate:              a.Gate,
		WSHub:             a.Hub,
		AllowedOrigins:    a.Config.AllowedOrigins,
		SecureCookies:     a.Config.HTTP.SecureCookies,
		Logger:            a.logger,
	})
}

// Close stops background work and disconnects the stores, newest first.
func (a *App) Close(ctx context.Context) error {
	if a.Gate != nil {
		a.Gate.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
