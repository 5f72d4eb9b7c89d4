package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"github.com/wellhead-erp/wellhead/internal/audit"
	"github.com/wellhead-erp/wellhead/internal/platform/broker"
	"github.com/wellhead-erp/wellhead/internal/platform/cache"
	"github.com/wellhead-erp/wellhead/internal/platform/db"
	"github.com/wellhead-erp/wellhead/internal/shared"
	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Infra holds the process-wide connections shared by the server and worker.
type Infra struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Broker    *broker.Conn
	Locker    *shared.DocumentLocker
	Notifiers []workflow.Notifier
}

// OpenInfra connects to postgres and redis, and to the broker when AMQP_URL
// is set. A broker failure is logged and transitions are not published.
func OpenInfra(ctx context.Context, cfg *Config, logger *slog.Logger) (*Infra, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return nil, err
	}
	client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		pool.Close()
		return nil, err
	}
	infra := &Infra{Pool: pool, Redis: client, Locker: shared.NewDocumentLocker(client, logger)}
	if cfg.AMQPURL != "" {
		conn, err := broker.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("broker unavailable, transitions will not be published", slog.Any("error", err))
		} else {
			infra.Broker = conn
			infra.Notifiers = append(infra.Notifiers, audit.NewPublisher(conn.Channel, cfg.AMQPExchange, language.English, logger))
		}
	}
	return infra, nil
}

// Deps returns service dependencies over the open connections.
func (i *Infra) Deps(cfg *Config, logger *slog.Logger) Deps {
	return Deps{Config: cfg, Logger: logger, Pool: i.Pool, Locker: i.Locker, Notifiers: i.Notifiers}
}

// Close releases every connection.
func (i *Infra) Close(logger *slog.Logger) {
	if i == nil {
		return
	}
	if err := i.Broker.Close(); err != nil {
		logger.Warn("broker close", slog.Any("error", err))
	}
	if err := i.Redis.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
	i.Pool.Close()
}
