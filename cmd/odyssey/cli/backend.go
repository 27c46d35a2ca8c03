package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/odyssey-erp/odyssey-close/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-close/internal/jobs"
	"github.com/odyssey-erp/odyssey-close/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
	"github.com/odyssey-erp/odyssey-close/jobs"
)

// OpenBackend connects to Postgres and Redis using the environment and wires
// the closing stack the same way the API server does.
func OpenBackend(ctx context.Context, envFile string) (*Backend, error) {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := app.LoadConfig(envFiles...)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	metrics := jobmetrics.NewMetrics(nil)
	stack, err := app.NewClosingStack(pool, redisClient, cfg, logger, metrics)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, err
	}
	jobsCLI, err := NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, err
	}

	return &Backend{
		Closing:   stack.Service,
		Entries:   stack.Ledger,
		Integrity: jobs.NewLedgerIntegrityJob(stack.Ledger, logger, metrics),
		Jobs:      jobsCLI,
		ApplySchema: func(ctx context.Context) error {
			return db.EnsureSchema(ctx, pool)
		},
		Close: func() error {
			err := jobsCLI.Close()
			err = errors.Join(err, redisClient.Close())
			pool.Close()
			return err
		},
	}, nil
}
