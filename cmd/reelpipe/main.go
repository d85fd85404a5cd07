package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/reelpipe/internal/app"
	"github.com/avolkov/reelpipe/internal/platform/config"
	db "github.com/avolkov/reelpipe/internal/storage"
)

func main() {
	mode := flag.String("mode", "", "Service mode (worker, runone, sweep, usage)")
	post := flag.String("post", "", "Post id to process (for runone mode)")
	days := flag.Int("days", 7, "Report window in days (for usage mode)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolOpts := db.PoolOptions{
		MaxConns:          cfg.DBMaxConnections,
		MinConns:          cfg.DBMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
	}

	database, err := db.NewWithOptions(ctx, cfg.PostgresDSN, poolOpts, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	// The health server only makes sense for the long-running mode.
	if *mode == "worker" {
		go func() {
			if err := application.StartHealthServer(ctx); err != nil {
				logger.Error().Err(err).Msg("health check server error")
			}
		}()
	}

	if err := runMode(ctx, application, *mode, *post, *days); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("application stopped")
			return
		}

		logger.Fatal().Err(err).Msg("application error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func runMode(ctx context.Context, application *app.App, mode, post string, days int) error {
	switch mode {
	case "worker":
		return application.RunWorker(ctx)
	case "runone":
		return application.RunOne(ctx, post)
	case "sweep":
		return application.RunSweep(ctx)
	case "usage":
		return application.RunUsage(ctx, days)
	default:
		log.Fatalf("Usage: %s --mode=[worker|runone|sweep|usage]", os.Args[0])

		return nil
	}
}
