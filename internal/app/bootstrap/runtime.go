package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-intake/internal/config"
	"github.com/wolfman30/clinic-intake/internal/scheduling"
	"github.com/wolfman30/clinic-intake/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool returns nil for an empty URL or an unreachable database.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildSchedulingStore picks Postgres when a pool is available and the
// in-memory store otherwise. The memory store is seeded from the configured
// capacities; the Postgres store reads them from capacity_limits.
func BuildSchedulingStore(pool *pgxpool.Pool, cfg *appconfig.Config, logger *logging.Logger) scheduling.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if pool != nil {
		logger.Info("scheduling store: postgres")
		return scheduling.NewPostgresStore(pool)
	}
	logger.Warn("scheduling store: in-memory; requests are lost on restart")
	return scheduling.NewMemoryStore(configuredLimits(cfg))
}

func configuredLimits(cfg *appconfig.Config) scheduling.Limits {
	limits := scheduling.DefaultLimits()
	if cfg == nil {
		return limits
	}
	limits["consulta"] = cfg.CapacityConsulta
	limits["consulta_miercoles"] = cfg.CapacityConsultaWednesday
	limits["reembolso"] = cfg.CapacityReembolso
	return limits
}
