package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/videoqueue-backend/internal/data/db"
	"github.com/yungbote/videoqueue-backend/internal/http"
	"github.com/yungbote/videoqueue-backend/internal/jobs/dispatcher"
	"github.com/yungbote/videoqueue-backend/internal/observability"
	"github.com/yungbote/videoqueue-backend/internal/platform/envutil"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/realtime"
)

const serviceName = "videoqueue-backend"

type App struct {
	Log        *logger.Logger
	DB         *gorm.DB
	Cfg        Config
	Repos      Repos
	Aggregates Aggregates
	Clients    Clients
	Services   Services
	SSEHub     *realtime.SSEHub
	Server     *http.Server
	Dispatcher *dispatcher.Dispatcher

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
		Component:   cfg.RunMode,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)
	aggs := wireAggregates(theDB, log, reposet)
	serviceset := wireServices(theDB, log, cfg, reposet, aggs, clients)

	a := &App{
		Log:          log,
		DB:           theDB,
		Cfg:          cfg,
		Repos:        reposet,
		Aggregates:   aggs,
		Clients:      clients,
		Services:     serviceset,
		pg:           pg,
		otelShutdown: otelShutdown,
	}

	if cfg.servesAPI() {
		a.SSEHub = realtime.NewSSEHub(log)
		handlerset := wireHandlers(theDB, log, serviceset, a.SSEHub)
		a.Server = wireServer(log, cfg, serviceset, handlerset)
	}
	if cfg.runsWorker() {
		var lock dispatcher.Lock
		if clients.Redis != nil {
			lock = dispatcher.NewRedisLock(log, clients.Redis, cfg.DispatchLockKey)
		}
		a.Dispatcher = dispatcher.New(log, cfg.Dispatch, aggs.VideoQueue, clients.Executor, serviceset.Notifier, lock)
	}
	return a, nil
}

// Run blocks until ctx is done or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)

	if m := observability.Current(); m != nil {
		m.StartServer(gctx, a.Log, a.Cfg.MetricsAddr)
		m.StartPostgresCollector(gctx, a.Log, a.DB)
		m.StartJobQueueCollector(gctx, a.Log, a.DB)
		if a.Cfg.RedisAddr != "" {
			m.StartRedisCollector(gctx, a.Log, a.Cfg.RedisAddr)
		}
	}

	if a.Server != nil {
		// every API process forwards bus events to its own SSE clients
		if err := a.Clients.Bus.StartForwarder(gctx, a.SSEHub.Broadcast); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
		g.Go(func() error {
			addr := ":" + a.Cfg.Port
			a.Log.Info("HTTP server listening", "addr", addr, "run_mode", a.Cfg.RunMode)
			return a.Server.Run(gctx, addr)
		})
	}
	if a.Dispatcher != nil {
		g.Go(func() error {
			return a.Dispatcher.Run(gctx)
		})
	}
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
