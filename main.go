package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poputka/internal/api"
	"poputka/internal/commands"
	"poputka/internal/config"
	"poputka/internal/http"
	"poputka/internal/logging"
	"poputka/internal/storage"
	"poputka/internal/stubs"
	"poputka/internal/ws"
)

type options struct {
	addUser string
	name    string
	role    string
}

func run(ctx context.Context, opts options) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadServer()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogSink)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		if opts.addUser != "" {
			return fmt.Errorf("%w. Is the server running?", err)
		}
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	if opts.addUser != "" {
		return commands.AddUser(os.Stdout, bbStorage, opts.addUser, opts.name, opts.role)
	}

	if cfg.SeedDemo {
		if err := stubs.Seed(bbStorage, time.Now()); err != nil {
			return fmt.Errorf("seed demo data: %w", err)
		}
		logger.Info("demo data seeded", zap.Int("users", len(stubs.Users)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := ws.NewHub(logger)
	apiServer := http.NewAPIServer(http.Config{
		Addr: cfg.APIAddr,
		API: api.New(api.Config{
			Store:     bbStorage,
			Publisher: hub,
			Metrics:   api.NewMetrics(reg),
			Logger:    logger,
		}),
		Stream:   ws.NewServer(hub, bbStorage, logger),
		Gatherer: reg,
		Logger:   logger,
	})

	g, gCtx := errgroup.WithContext(ctx)

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func main() {
	var opts options
	flag.StringVar(&opts.addUser, "add-user", "", "User id to register (stop the server first) and exit")
	flag.StringVar(&opts.name, "name", "", "Display name for -add-user")
	flag.StringVar(&opts.role, "role", "sender", "Role for -add-user: sender or traveler")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
