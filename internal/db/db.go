package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/config"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// Open connects to Postgres, retrying while the server is still starting.
func Open(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN("postgres"))
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		var pool *pgxpool.Pool
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("database connected", slog.Int("attempt", attempt))
				return pool, nil
			}
			pool.Close()
		}
		log.Warn("database connect failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", connectAttempts),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("connect after %d attempts: %w", connectAttempts, err)
}
