// Package app assembles the UI server and, when enabled, the simulated
// orchestration backend from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/aescanero/dago-probe/internal/application/orchestrator"
	"github.com/aescanero/dago-probe/internal/application/workers"
	"github.com/aescanero/dago-probe/internal/config"
	eventsmemory "github.com/aescanero/dago-probe/pkg/adapters/events/memory"
	eventsredis "github.com/aescanero/dago-probe/pkg/adapters/events/redis"
	metrics "github.com/aescanero/dago-probe/pkg/adapters/metrics/prometheus"
	storagememory "github.com/aescanero/dago-probe/pkg/adapters/storage/memory"
	storageredis "github.com/aescanero/dago-probe/pkg/adapters/storage/redis"
	grpcapi "github.com/aescanero/dago-probe/pkg/api/grpc"
	apihttp "github.com/aescanero/dago-probe/pkg/api/http"
	"github.com/aescanero/dago-probe/pkg/api/websocket"
	"github.com/aescanero/dago-probe/pkg/ports"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App is a fully wired dago-probe server
type App struct {
	Server *apihttp.Server
	// GRPC is nil when the gRPC port is 0 and no listener was given
	GRPC    *grpcapi.Server
	Metrics *metrics.Collector

	manager     *orchestrator.Manager
	pool        *workers.Pool
	eventBus    ports.EventBus
	redisClient *goredis.Client
	logger      *zap.Logger
}

// Options carries the process-level dependencies of New
type Options struct {
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// RedisClient overrides the client built from the configuration
	RedisClient *goredis.Client
	// GRPCListener overrides listening on the configured gRPC port
	GRPCListener net.Listener
}

// New builds the server. Nothing is started until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}

	a := &App{
		Metrics: metrics.NewCollector(opts.Registerer),
		logger:  logger,
	}

	serverCfg := &apihttp.Config{
		Port:   cfg.HTTPPort,
		Logger: logger,
		UI: apihttp.UIConfig{
			BaseURL:        cfg.Client.BaseURL,
			Orchestrator:   cfg.Client.Orchestrator,
			RewriteOrigin:  cfg.Client.RewriteOrigin,
			TrustForwarded: cfg.Client.TrustForwarded,
			ActionTimeout:  cfg.Client.ActionTimeout,
			SessionTTL:     cfg.Client.SessionTTL,
		},
		Metrics:  a.Metrics,
		Gatherer: opts.Gatherer,
		TaskHub:  cfg.Simulator.TaskHub,
	}

	if cfg.Simulator.Enabled {
		if err := a.buildSimulator(ctx, cfg, opts); err != nil {
			a.closeRedis()
			return nil, err
		}
		serverCfg.Simulator = a.manager
		serverCfg.Pool = a.pool
	}

	a.Server = apihttp.NewServer(serverCfg)

	if a.manager != nil {
		a.Server.SetupWebSocket(websocket.NewHandler(a.eventBus, a.manager, logger))
	}

	if cfg.GRPCPort > 0 || opts.GRPCListener != nil {
		grpcCfg := &grpcapi.Config{
			Port:     cfg.GRPCPort,
			Listener: opts.GRPCListener,
			Interval: cfg.Simulator.HealthCheckInterval,
			Logger:   logger,
		}
		if a.pool != nil {
			grpcCfg.Checker = a.pool.Health()
		}

		var err error
		if a.GRPC, err = grpcapi.NewServer(grpcCfg); err != nil {
			a.closeRedis()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) buildSimulator(ctx context.Context, cfg *config.Config, opts Options) error {
	sim := cfg.Simulator

	if cfg.UsesRedis() {
		a.redisClient = opts.RedisClient
		if a.redisClient == nil {
			a.redisClient = goredis.NewClient(&goredis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
				MaxRetries:   cfg.Redis.MaxRetries,
				DialTimeout:  cfg.Redis.DialTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
		}

		if err := a.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.logger.Info("connected to Redis", zap.String("addr", a.redisClient.Options().Addr))
	}

	var store ports.InstanceStore
	switch sim.Store {
	case config.BackendRedis:
		store = storageredis.NewInstanceStore(a.redisClient, sim.InstanceTTL, a.logger)
	default:
		store = storagememory.NewInMemoryInstanceStore()
	}

	switch sim.EventBus {
	case config.BackendRedis:
		a.eventBus = eventsredis.NewStreamsEventBus(a.redisClient, "probe", fmt.Sprintf("probe-%d", os.Getpid()), a.logger)
	default:
		a.eventBus = eventsmemory.NewInMemoryEventBus()
	}

	a.manager = orchestrator.NewManager(
		a.eventBus,
		store,
		a.Metrics,
		orchestrator.NewValidator(sim.Orchestrators),
		a.logger,
		orchestrator.Options{
			StartDelay:      sim.StartDelay,
			InstanceTimeout: sim.InstanceTimeout,
		},
	)

	a.pool = workers.NewPool(
		sim.WorkerPoolSize,
		a.eventBus,
		store,
		a.Metrics,
		a.logger,
		sim.HealthCheckInterval,
		sim.ActivityDuration,
	)

	a.logger.Info("simulator configured",
		zap.Strings("orchestrators", sim.Orchestrators),
		zap.String("store", sim.Store),
		zap.String("event_bus", sim.EventBus),
		zap.Int("worker_pool_size", sim.WorkerPoolSize))

	return nil
}

// StartWorkers starts the simulator's worker pool, if any
func (a *App) StartWorkers() error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	return nil
}

// Shutdown stops the server, the simulator and the Redis connection, in
// that order. All steps run; the first error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
			keep(err)
		}
	}

	if a.GRPC != nil {
		if err := a.GRPC.Shutdown(ctx); err != nil {
			a.logger.Error("gRPC server shutdown error", zap.Error(err))
			keep(err)
		}
	}

	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			a.logger.Error("worker pool shutdown error", zap.Error(err))
			keep(err)
		}
	}

	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Error("orchestrator shutdown error", zap.Error(err))
			keep(err)
		}
	}

	if a.eventBus != nil {
		if err := a.eventBus.Close(); err != nil {
			a.logger.Error("event bus close error", zap.Error(err))
			keep(err)
		}
	}

	if err := a.closeRedis(); err != nil {
		a.logger.Error("Redis close error", zap.Error(err))
		keep(err)
	}

	return firstErr
}

func (a *App) closeRedis() error {
	if a.redisClient == nil {
		return nil
	}
	err := a.redisClient.Close()
	a.redisClient = nil
	return err
}
