package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/videoqueue-backend/internal/executor"
	"github.com/yungbote/videoqueue-backend/internal/platform/logger"
	"github.com/yungbote/videoqueue-backend/internal/realtime/bus"
	"github.com/yungbote/videoqueue-backend/internal/temporalx"
)

type Clients struct {
	Redis    *goredis.Client
	Bus      bus.Bus
	Temporal temporalsdkclient.Client
	Executor executor.Executor
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	// Redis: cross-process job events and the dispatcher lease
	if cfg.RedisAddr != "" {
		rdb, err := bus.NewRedisClient(cfg.RedisAddr)
		if err != nil {
			return out, fmt.Errorf("init redis: %w", err)
		}
		b, err := bus.NewRedisBus(log, rdb, cfg.RedisChannel)
		if err != nil {
			_ = rdb.Close()
			return out, fmt.Errorf("init redis bus: %w", err)
		}
		out.Redis = rdb
		out.Bus = b
	} else {
		log.Info("REDIS_ADDR not set; job events stay in process")
		out.Bus = bus.NewMemoryBus(log)
	}

	exec, tc, err := wireExecutor(ctx, log, cfg)
	if err != nil {
		out.Close()
		return Clients{}, err
	}
	out.Executor = exec
	out.Temporal = tc
	return out, nil
}

func wireExecutor(ctx context.Context, log *logger.Logger, cfg Config) (executor.Executor, temporalsdkclient.Client, error) {
	routes, err := executor.LoadRoutes(cfg.ExecutorRoutesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load executor routes: %w", err)
	}
	paths := executor.PathMapper{LocalRoot: cfg.ExecutorLocalRoot, RemoteRoot: cfg.ExecutorRemoteRoot}

	switch cfg.ExecutorBackend {
	case "temporal":
		tcfg := temporalx.LoadConfig()
		tc, err := temporalx.NewClient(log)
		if err != nil {
			return nil, nil, fmt.Errorf("init temporal client: %w", err)
		}
		if tc == nil {
			return nil, nil, fmt.Errorf("EXECUTOR_BACKEND=temporal requires TEMPORAL_ADDRESS")
		}
		if err := temporalx.EnsureNamespace(ctx, tc, tcfg.Namespace, log); err != nil {
			tc.Close()
			return nil, nil, fmt.Errorf("ensure temporal namespace: %w", err)
		}
		return executor.NewTemporalExecutor(log, tc, executor.TemporalConfig{
			TaskQueue: tcfg.TaskQueue,
			Routes:    routes,
			Paths:     paths,
		}), tc, nil
	case "", "http":
		exec, err := executor.NewHTTPExecutor(log, executor.HTTPConfig{
			BaseURL: cfg.ExecutorBaseURL,
			APIKey:  cfg.ExecutorAPIKey,
			Timeout: cfg.ExecutorTimeout,
			Routes:  routes,
			Paths:   paths,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init http executor: %w", err)
		}
		return exec, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown EXECUTOR_BACKEND %q", cfg.ExecutorBackend)
	}
}

// Close releases every client. The Redis client is closed through the bus.
func (c Clients) Close() {
	if c.Bus != nil {
		_ = c.Bus.Close()
	} else if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
