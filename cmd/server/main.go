/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, LEAVE_* environment)
  2. Build the zap logger
  3. Open the SQLite store
  4. Pick the lock backend (in-process or Redis)
  5. Attach the Kafka audit publisher when enabled
  6. Seed the first policy version and the bootstrap admin
  7. Start the HTTP server

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./config/config.yaml or
           ./config.yaml when present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close Kafka writer, Redis client and database
  4. Exit

EXAMPLES:
  # Run with an in-memory database and console logs
  LEAVE_DB_PATH=":memory:" LEAVE_LOG_FORMAT=console ./server

  # Share locks across replicas
  LEAVE_LOCK_BACKEND=redis LEAVE_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/logger"
	"github.com/warp/leave-engine/messaging/kafka"
	"github.com/warp/leave-engine/store/redislock"
	"github.com/warp/leave-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	svcCfg := leave.Config{
		Locker:           locker,
		Logger:           log,
		LedgerMaxRetries: cfg.Ledger.MaxRetries,
		BulkParallelism:  cfg.Bulk.Parallelism,
	}
	if cfg.Kafka.Enabled {
		pub := kafka.NewPublisher(kafka.NewWriter(cfg.Kafka.Brokers, log), cfg.Kafka.Topic, log)
		defer pub.Close()
		svcCfg.Publisher = pub
		log.Info("publishing audit events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	svc := leave.NewService(store, svcCfg)

	if err := seed(ctx, cfg, svc, store, log); err != nil {
		return err
	}

	handler := api.NewHandler(svc, log)
	handler.Ping = func() error { return store.Ping(context.Background()) }
	router := api.NewRouter(handler, cfg.Server.CORS.AllowOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("lock_backend", cfg.Lock.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// newLocker returns the configured per-key lock and a func releasing its
// resources.
func newLocker(ctx context.Context, cfg *config.Config, log *zap.Logger) (leave.Locker, func(), error) {
	if cfg.Lock.Backend != config.LockRedis {
		return leave.NewKeyedMutex(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	locker := redislock.New(rdb, redislock.Options{
		TTL:           cfg.Lock.TTL,
		RetryInterval: cfg.Lock.RetryInterval,
		MaxRetries:    cfg.Lock.MaxRetries,
	}, log)
	log.Info("using redis lock", zap.String("addr", cfg.Redis.Addr))
	return locker, func() { rdb.Close() }, nil
}

// seed installs the first policy version and the bootstrap admin on a fresh
// database. Both are no-ops when the data already exists.
func seed(ctx context.Context, cfg *config.Config, svc *leave.Service, store *sqlite.Store, log *zap.Logger) error {
	rules, exceptions := leave.DefaultRules(), []leave.DateException(nil)
	if cfg.Policy.File != "" {
		var err error
		rules, exceptions, err = factory.NewPolicyFactory().ParseFile(cfg.Policy.File)
		if err != nil {
			return fmt.Errorf("load policy file: %w", err)
		}
	}
	p, err := svc.BootstrapPolicy(ctx, rules, exceptions)
	if err != nil {
		return fmt.Errorf("bootstrap policy: %w", err)
	}
	log.Info("active policy", zap.String("version_id", string(p.VersionID)))

	if cfg.Bootstrap.AdminID == "" {
		return nil
	}
	adminID := leave.EmployeeID(cfg.Bootstrap.AdminID)
	_, err = store.GetEmployee(ctx, adminID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, leave.ErrEmployeeNotFound) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}
	admin := leave.Employee{
		ID:       adminID,
		HireDate: leave.DateOf(time.Now()),
		Role:     leave.RoleAdmin,
	}
	if err := store.SaveEmployee(ctx, admin); err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}
	log.Info("seeded bootstrap admin", zap.String("employee_id", string(adminID)))
	return nil
}
