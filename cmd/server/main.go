package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/garnizeh/cvpipe/api"
	"github.com/garnizeh/cvpipe/db"
	"github.com/garnizeh/cvpipe/internal/config"
	dbpkg "github.com/garnizeh/cvpipe/internal/db"
	"github.com/garnizeh/cvpipe/internal/pipeline"
	"github.com/garnizeh/cvpipe/internal/queue"
	"github.com/garnizeh/cvpipe/internal/repository/sqlite"
	"github.com/garnizeh/cvpipe/internal/scoring"
	"github.com/garnizeh/cvpipe/pkg/ollama"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	pipeline.SetLogger(logger)
	queue.SetLogger(logger)
	scoring.SetLogger(logger)
	ollama.SetLogger(logger)

	logger.Info("starting cvpipe", slog.String("version", version), slog.String("buildTime", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	conn, err := dbpkg.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer conn.Close()

	if cfg.MigrateOnStart {
		if err := dbpkg.Migrate(ctx, conn, db.Migrations); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
	}

	transport, err := newTransport(cfg, conn)
	if err != nil {
		log.Fatalf("Failed to open queue transport: %v", err)
	}
	defer transport.Close()

	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		log.Fatalf("Failed to build scorer: %v", err)
	}
	if c, ok := scorer.(io.Closer); ok {
		defer c.Close()
	}
	checks := []func(context.Context) error{conn.GetConn().PingContext}
	if h, ok := scorer.(interface{ Health(context.Context) error }); ok {
		checks = append(checks, h.Health)
	}

	repo := sqlite.New(conn, logger).Repository()
	dispatcher := pipeline.NewDispatcher(repo, transport, pipeline.DispatcherConfig{
		Queue:             cfg.Queue.Name,
		IdempotencyWindow: cfg.Dispatch.IdempotencyWindow,
		Attempts:          cfg.Queue.Attempts,
		Backoff:           cfg.Queue.Backoff,
	})

	var wg sync.WaitGroup
	if cfg.Worker.Enabled {
		worker, err := pipeline.NewWorker(repo, transport, scorer, pipeline.WorkerConfig{
			Queue:       cfg.Queue.Name,
			Concurrency: cfg.Worker.Concurrency,
		})
		if err != nil {
			log.Fatalf("Failed to create worker: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", slog.Any("err", err))
				stop()
			}
		}()
	}

	handler := api.SetupRoutes(api.Services{
		Drafts:     pipeline.NewDrafts(repo, cfg.Dispatch.DraftTTL),
		Dispatcher: dispatcher,
		Status:     pipeline.NewStatusQuery(repo),
		Health:     healthCheck(checks...),
	}, cfg.JWTSecret, version, buildTime)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}

	// Handlers finish their current message before Consume returns.
	wg.Wait()
	logger.Info("server exited")
}

// healthCheck runs every check in order and reports the first failure.
func healthCheck(checks ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func newTransport(cfg *config.Config, conn *dbpkg.DB) (queue.Transport, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverRabbitMQ:
		return queue.NewRabbitTransport(cfg.Queue.RabbitMQURL)
	default:
		return queue.NewSQLiteTransport(conn, queue.SQLiteOptions{
			PollInterval: cfg.Queue.PollInterval,
			Visibility:   cfg.Queue.Visibility,
		}), nil
	}
}
