package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nmic-mathiasbang/nm-quiz/internal/config"
	"github.com/nmic-mathiasbang/nm-quiz/internal/database"
	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/handler/health"
	"github.com/nmic-mathiasbang/nm-quiz/internal/migrations"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/server"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	bank, err := loadBank(cfg.QuestionsPath)
	if err != nil {
		return fmt.Errorf("loading question bank: %w", err)
	}

	checks := make(map[string]health.Checker)

	// --- Change feed ---
	var changes feed.Feed = feed.NewBroker()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		changes = feed.NewRedis(rdb, logger)
		checks["redis"] = health.Redis(rdb)
		logger.Info("connected to redis")
	}

	// --- Store ---
	var st store.Store
	switch cfg.DBDriver {
	case "memory":
		st = store.NewMemStore(changes, logger)
		logger.Warn("using in-memory store, games are lost on restart")
	default:
		dsn := cfg.DatabaseURL
		if cfg.DBDriver == "sqlite" {
			dsn = cfg.DBPath
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return fmt.Errorf("creating database dir: %w", err)
			}
		}
		db, err := database.Open(ctx, cfg.DBDriver, dsn)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", cfg.DBDriver, err)
		}
		defer db.Close()

		if err := migrations.Run(db.DB, db.Dialect.Name()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		st = store.NewSQLStore(db, changes, logger)
		checks[cfg.DBDriver] = health.DB(db.DB)
		logger.Info("connected to database", "driver", cfg.DBDriver)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Store:     st,
		Bank:      bank,
		Tokens:    server.NewTokens(secret),
		PollEvery: cfg.PollInterval,
		Checks:    checks,
		SPADir:    cfg.SPADir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func loadBank(path string) (quiz.Bank, error) {
	if path == "" {
		return quiz.DefaultBank()
	}
	return quiz.LoadBank(path)
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
